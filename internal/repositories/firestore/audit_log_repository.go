package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const auditLogCollection = "auditLogs"

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository struct {
	base     *pfirestore.BaseRepository[auditLogDocument]
	provider *pfirestore.Provider
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogCollection, nil, nil)
	return &AuditLogRepository{base: base, provider: provider}, nil
}

// Append writes one entry. Entries are never updated or deleted.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLog) error {
	if r == nil || r.base == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log repository: entry id is required")
	}
	ref, err := r.base.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainAuditLog(entry)); err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLog], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLog]{}, errors.New("audit log repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLog]{}, err
	}

	query := client.Collection(auditLogCollection).Query
	if entityID := strings.TrimSpace(filter.EntityID); entityID != "" {
		query = query.Where("entityId", "==", entityID)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		query = query.Where("actor", "==", actor)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action", "==", action)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditLog]{}, fmt.Errorf("auditLogs.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.AuditLog
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLog]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLog]{}, fmt.Errorf("auditLogs.list: decode %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, toDomainAuditLog(snap.Ref.ID, doc))
	}

	nextToken := ""
	if limit > 0 && len(entries) == fetchLimit {
		last := entries[len(entries)-1]
		nextToken = encodeTimeToken(last.CreatedAt, last.ID)
		entries = entries[:len(entries)-1]
	}

	return domain.CursorPage[domain.AuditLog]{Items: entries, NextPageToken: nextToken}, nil
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	Action    string         `firestore:"action"`
	Entity    string         `firestore:"entity"`
	EntityID  string         `firestore:"entityId"`
	Reason    string         `firestore:"reason,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func fromDomainAuditLog(entry domain.AuditLog) auditLogDocument {
	return auditLogDocument{
		Actor:     strings.TrimSpace(entry.Actor),
		Action:    strings.TrimSpace(entry.Action),
		Entity:    strings.TrimSpace(entry.Entity),
		EntityID:  strings.TrimSpace(entry.EntityID),
		Reason:    strings.TrimSpace(entry.Reason),
		IPHash:    strings.TrimSpace(entry.IPHash),
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func toDomainAuditLog(id string, doc auditLogDocument) domain.AuditLog {
	return domain.AuditLog{
		ID:        id,
		Actor:     doc.Actor,
		Action:    doc.Action,
		Entity:    doc.Entity,
		EntityID:  doc.EntityID,
		Reason:    doc.Reason,
		IPHash:    doc.IPHash,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
