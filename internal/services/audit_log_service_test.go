package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

type stubAuditRepo struct {
	entries   []domain.AuditLog
	appendErr error

	listFilter repositories.AuditLogFilter
	listResp   domain.CursorPage[domain.AuditLog]
	listErr    error
}

func (s *stubAuditRepo) Append(_ context.Context, entry domain.AuditLog) error {
	s.entries = append(s.entries, entry)
	return s.appendErr
}

func (s *stubAuditRepo) List(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLog], error) {
	s.listFilter = filter
	return s.listResp, s.listErr
}

type captureAuditLogger struct {
	warnings []string
}

func (c *captureAuditLogger) Warnf(format string, _ ...any) {
	c.warnings = append(c.warnings, strings.TrimSpace(format))
}

func newAuditService(t *testing.T, repo *stubAuditRepo, logger AuditLogger) AuditLogService {
	t.Helper()
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "fixed" },
		Logger:      logger,
		HashSalt:    "pepper:",
	})
	if err != nil {
		t.Fatalf("NewAuditLogService returned error: %v", err)
	}
	return svc
}

func TestAuditRecordSanitizesAndHashesIP(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newAuditService(t, repo, nil)

	svc.Record(context.Background(), AuditLogRecord{
		Actor:    "  admin-1  ",
		Action:   " order.status.manual_correction ",
		Entity:   "order",
		EntityID: "ord_1",
		Reason:   "rewash after complaint\r\n",
		IP:       "203.0.113.42 ",
		Metadata: map[string]any{"from": "delivered", "to": "processing"},
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Actor != "admin-1" {
		t.Fatalf("actor must be trimmed, got %q", entry.Actor)
	}
	if entry.Action != "order.status.manual_correction" {
		t.Fatalf("action must be trimmed, got %q", entry.Action)
	}
	if strings.Contains(entry.Reason, "\r") {
		t.Fatalf("control characters must be stripped, got %q", entry.Reason)
	}
	if !strings.HasPrefix(entry.IPHash, "sha256:") {
		t.Fatalf("expected hashed ip, got %q", entry.IPHash)
	}
	if strings.Contains(entry.IPHash, "203.0.113.42") {
		t.Fatalf("raw ip must never be stored")
	}
	if entry.Metadata["from"] != "delivered" {
		t.Fatalf("metadata must survive, got %+v", entry.Metadata)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatalf("expected a timestamp")
	}
}

func TestAuditRecordFailureDoesNotPropagate(t *testing.T) {
	repo := &stubAuditRepo{appendErr: errors.New("backend down")}
	logger := &captureAuditLogger{}
	svc := newAuditService(t, repo, logger)

	svc.Record(context.Background(), AuditLogRecord{Actor: "admin-1", Action: "order.refund"})

	if len(logger.warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(logger.warnings))
	}
}

func TestAuditListTrimsFilter(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newAuditService(t, repo, nil)

	if _, err := svc.List(context.Background(), AuditLogFilter{
		EntityID: " ord_1 ",
		Actor:    " admin-1 ",
	}); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if repo.listFilter.EntityID != "ord_1" || repo.listFilter.Actor != "admin-1" {
		t.Fatalf("filter must be trimmed, got %+v", repo.listFilter)
	}
}
