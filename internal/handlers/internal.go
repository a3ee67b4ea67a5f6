package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taketaketaketake/bol-sub000/internal/platform/httpx"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// InternalHandlers exposes service-to-service ops endpoints. The group is
// authenticated by the OIDC middleware, not Firebase sessions.
type InternalHandlers struct {
	audit services.AuditLogService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(audit services.AuditLogService) *InternalHandlers {
	return &InternalHandlers{audit: audit}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/audit-logs", h.searchAuditLogs)
}

func (h *InternalHandlers) searchAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}

	dateRange, ok := parseDateRange(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := h.audit.List(ctx, services.AuditLogFilter{
		EntityID:   strings.TrimSpace(query.Get("entity_id")),
		Actor:      strings.TrimSpace(query.Get("actor")),
		Action:     strings.TrimSpace(query.Get("action")),
		DateRange:  dateRange,
		Pagination: pager,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			Action:    entry.Action,
			Entity:    entry.Entity,
			EntityID:  entry.EntityID,
			Reason:    entry.Reason,
			Metadata:  entry.Metadata,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}
