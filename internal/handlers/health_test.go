package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taketaketaketake/bol-sub000/internal/repositories"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type stubSystemService struct {
	reportFn func(context.Context) (repositories.HealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (repositories.HealthReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx)
	}
	return repositories.HealthReport{}, errors.New("not implemented")
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	handler := NewHealthHandlers(WithHealthBuildInfo(services.BuildInfo{
		Version:     "1.4.0",
		Environment: "test",
		StartedAt:   time.Now().Add(-time.Minute),
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.4.0" || resp.Environment != "test" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestReadyzHealthy(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (repositories.HealthReport, error) {
			return repositories.HealthReport{
				Healthy:    true,
				Components: map[string]string{"firestore": "ok"},
				CheckedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewHealthHandlers(WithHealthSystemService(system))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Components["firestore"] != "ok" {
		t.Fatalf("expected firestore component, got %#v", resp.Components)
	}
}

func TestReadyzUnhealthyDependency(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (repositories.HealthReport, error) {
			return repositories.HealthReport{
				Healthy:    false,
				Components: map[string]string{"firestore": "unavailable"},
			}, nil
		},
	}
	handler := NewHealthHandlers(WithHealthSystemService(system))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestReadyzWithoutSystemServiceFallsBack(t *testing.T) {
	handler := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
