package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const (
	auditIDPrefix     = "aud_"
	auditHasherPrefix = "sha256:"
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	newID    func() string
	logger   AuditLogger
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
	HashSalt    string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit entry after sanitising its fields. Repository
// failures are logged but never bubble up: auditing must not interrupt the
// primary mutation flow.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated audit entries.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLog], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		EntityID:   strings.TrimSpace(filter.EntityID),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLog {
	entry := domain.AuditLog{
		ID:        auditIDPrefix + s.newID(),
		Actor:     sanitizeText(record.Actor, 160),
		Action:    sanitizeText(record.Action, 120),
		Entity:    sanitizeText(record.Entity, 80),
		EntityID:  sanitizeText(record.EntityID, 160),
		Reason:    sanitizeText(record.Reason, 512),
		CreatedAt: s.clock(),
	}

	// The raw address is never stored; the salted hash still links entries from
	// the same origin.
	if ip := strings.TrimSpace(record.IP); ip != "" {
		entry.IPHash = auditHasherPrefix + shaKey(s.hashSalt+ip)
	}

	if len(record.Metadata) > 0 {
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			trimmedKey := sanitizeText(key, 80)
			if trimmedKey == "" {
				continue
			}
			meta[trimmedKey] = sanitizeMetadataValue(value)
		}
		if len(meta) > 0 {
			entry.Metadata = meta
		}
	}

	return entry
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}

func sanitizeMetadataValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
