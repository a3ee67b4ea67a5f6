package handlers

import (
	"net/http"
	"time"

	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type healthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Uptime      string            `json:"uptime,omitempty"`
	Components  map[string]string `json:"components,omitempty"`
	CheckedAt   string            `json:"checked_at,omitempty"`
}

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness collects the dependency report.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
		build: services.BuildInfo{StartedAt: time.Now()},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithHealthBuildInfo attaches build metadata to probe responses.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now()
		}
		h.build = build
	}
}

// WithHealthSystemService wires the system service used by the readiness probe.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      h.clock().Sub(h.build.StartedAt).Truncate(time.Second).String(),
	})
}

// Readyz reports dependency readiness; without a system service it degrades
// to a liveness answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil || !report.Healthy {
		resp := healthResponse{
			Status:     "unavailable",
			Components: report.Components,
			CheckedAt:  formatTime(report.CheckedAt),
		}
		writeJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Components:  report.Components,
		CheckedAt:   formatTime(report.CheckedAt),
	})
}
