package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type stubAuditLogService struct {
	listFn func(context.Context, services.AuditLogFilter) (domain.CursorPage[services.AuditLog], error)
}

func (s *stubAuditLogService) Record(context.Context, services.AuditLogRecord) {}

func (s *stubAuditLogService) List(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLog], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.AuditLog]{}, nil
}

func serveInternalRequest(t *testing.T, handler *InternalHandlers, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestInternalAuditLogSearch(t *testing.T) {
	var captured services.AuditLogFilter
	audit := &stubAuditLogService{
		listFn: func(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLog], error) {
			captured = filter
			return domain.CursorPage[services.AuditLog]{
				Items: []domain.AuditLog{{
					ID:        "aud_1",
					Actor:     "ops-1",
					Action:    "billing.refund",
					Entity:    "order",
					EntityID:  "ord_1",
					CreatedAt: time.Date(2026, time.March, 12, 15, 0, 0, 0, time.UTC),
				}},
				NextPageToken: "tok_next",
			}, nil
		},
	}
	handler := NewInternalHandlers(audit)

	rr := serveInternalRequest(t, handler, "/internal/audit-logs?entity_id=ord_1&action=billing.refund&page_size=10")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.EntityID != "ord_1" || captured.Action != "billing.refund" {
		t.Fatalf("unexpected filter %#v", captured)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}

	var resp auditLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "aud_1" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.NextPageToken != "tok_next" {
		t.Fatalf("expected next page token forwarded, got %q", resp.NextPageToken)
	}
}

func TestInternalAuditLogSearchRejectsBadDate(t *testing.T) {
	handler := NewInternalHandlers(&stubAuditLogService{})

	rr := serveInternalRequest(t, handler, "/internal/audit-logs?created_after=yesterday")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestInternalAuditLogSearchWithoutService(t *testing.T) {
	handler := NewInternalHandlers(nil)

	rr := serveInternalRequest(t, handler, "/internal/audit-logs")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
