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

const statusHistorySubcollection = "statusHistory"

// StatusHistoryRepository stores one append-only row per status transition
// under the order document.
type StatusHistoryRepository struct {
	provider *pfirestore.Provider
}

// NewStatusHistoryRepository constructs a Firestore-backed status history repository.
func NewStatusHistoryRepository(provider *pfirestore.Provider) (*StatusHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("status history repository requires firestore provider")
	}
	return &StatusHistoryRepository{provider: provider}, nil
}

// Append writes the transition row. Rows are never updated or deleted.
func (r *StatusHistoryRepository) Append(ctx context.Context, change domain.StatusChange) error {
	if r == nil || r.provider == nil {
		return errors.New("status history repository not initialised")
	}
	if strings.TrimSpace(change.ID) == "" {
		return errors.New("status history repository: change id is required")
	}
	coll, err := r.collection(ctx, change.OrderID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(change.ID).Create(ctx, fromDomainStatusChange(change)); err != nil {
		return pfirestore.WrapError("statusHistory.append", err)
	}
	return nil
}

// ListByOrder returns transitions for an order, newest first.
func (r *StatusHistoryRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.StatusChange], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StatusChange]{}, errors.New("status history repository not initialised")
	}
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return domain.CursorPage[domain.StatusChange]{}, err
	}

	query := coll.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.StatusChange]{}, fmt.Errorf("statusHistory.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var changes []domain.StatusChange
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StatusChange]{}, pfirestore.WrapError("statusHistory.list", err)
		}
		var doc statusChangeDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StatusChange]{}, fmt.Errorf("statusHistory.list: decode %s: %w", snap.Ref.ID, err)
		}
		changes = append(changes, toDomainStatusChange(snap.Ref.ID, orderID, doc))
	}

	nextToken := ""
	if limit > 0 && len(changes) == fetchLimit {
		last := changes[len(changes)-1]
		nextToken = encodeTimeToken(last.CreatedAt, last.ID)
		changes = changes[:len(changes)-1]
	}

	return domain.CursorPage[domain.StatusChange]{Items: changes, NextPageToken: nextToken}, nil
}

func (r *StatusHistoryRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("status history repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderCollection).Doc(orderID).Collection(statusHistorySubcollection), nil
}

type statusChangeDocument struct {
	FromStatus     string    `firestore:"fromStatus"`
	ToStatus       string    `firestore:"toStatus"`
	Trigger        string    `firestore:"trigger"`
	ActorID        string    `firestore:"actorId"`
	SkipValidation bool      `firestore:"skipValidation"`
	Note           string    `firestore:"note,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func fromDomainStatusChange(change domain.StatusChange) statusChangeDocument {
	return statusChangeDocument{
		FromStatus:     string(change.FromStatus),
		ToStatus:       string(change.ToStatus),
		Trigger:        strings.TrimSpace(change.Trigger),
		ActorID:        strings.TrimSpace(change.ActorID),
		SkipValidation: change.SkipValidation,
		Note:           strings.TrimSpace(change.Note),
		CreatedAt:      change.CreatedAt.UTC(),
	}
}

func toDomainStatusChange(id, orderID string, doc statusChangeDocument) domain.StatusChange {
	return domain.StatusChange{
		ID:             id,
		OrderID:        orderID,
		FromStatus:     domain.OrderStatus(doc.FromStatus),
		ToStatus:       domain.OrderStatus(doc.ToStatus),
		Trigger:        doc.Trigger,
		ActorID:        doc.ActorID,
		SkipValidation: doc.SkipValidation,
		Note:           doc.Note,
		CreatedAt:      doc.CreatedAt,
	}
}

var _ repositories.StatusHistoryRepository = (*StatusHistoryRepository)(nil)
