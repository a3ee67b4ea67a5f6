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

const refundSubcollection = "refunds"

// RefundRepository stores the append-only refund ledger as a subcollection of
// the order. Appends also refresh the mirror fields on the order document so
// reads never need to sum the ledger.
type RefundRepository struct {
	provider *pfirestore.Provider
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	return &RefundRepository{provider: provider}, nil
}

// Append writes the ledger row and the order mirror fields in one transaction.
func (r *RefundRepository) Append(ctx context.Context, refund domain.Refund, mirror repositories.RefundMirror) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	orderID := strings.TrimSpace(refund.OrderID)
	if orderID == "" {
		return errors.New("refund repository: order id is required")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund repository: refund id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	orderRef := client.Collection(orderCollection).Doc(orderID)
	refundRef := orderRef.Collection(refundSubcollection).Doc(refund.ID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(orderRef); err != nil {
			return err
		}
		if err := tx.Create(refundRef, fromDomainRefund(refund)); err != nil {
			return err
		}
		return tx.Update(orderRef, []firestore.Update{
			{Path: "payment.status", Value: string(mirror.PaymentStatus)},
			{Path: "totals.refundedCents", Value: mirror.RefundedCents},
			{Path: "updatedAt", Value: mirror.UpdatedAt.UTC()},
		})
	})
	if err != nil {
		return pfirestore.WrapError("refunds.append", err)
	}
	return nil
}

// ListByOrder returns the ledger rows for an order, oldest first.
func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("refund repository not initialised")
	}
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var refunds []domain.Refund
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("refunds.list", err)
		}
		var doc refundDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("refunds.list: decode %s: %w", snap.Ref.ID, err)
		}
		refunds = append(refunds, toDomainRefund(snap.Ref.ID, orderID, doc))
	}
	return refunds, nil
}

// SumByOrder returns the total cents already refunded for an order.
func (r *RefundRepository) SumByOrder(ctx context.Context, orderID string) (int64, error) {
	refunds, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, refund := range refunds {
		total += refund.AmountCents
	}
	return total, nil
}

func (r *RefundRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("refund repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderCollection).Doc(orderID).Collection(refundSubcollection), nil
}

type refundDocument struct {
	AmountCents  int64     `firestore:"amountCents"`
	Reason       string    `firestore:"reason"`
	ProcessorRef string    `firestore:"processorRef,omitempty"`
	CreatedBy    string    `firestore:"createdBy"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func fromDomainRefund(refund domain.Refund) refundDocument {
	return refundDocument{
		AmountCents:  refund.AmountCents,
		Reason:       strings.TrimSpace(refund.Reason),
		ProcessorRef: strings.TrimSpace(refund.ProcessorRef),
		CreatedBy:    strings.TrimSpace(refund.CreatedBy),
		CreatedAt:    refund.CreatedAt.UTC(),
	}
}

func toDomainRefund(id, orderID string, doc refundDocument) domain.Refund {
	return domain.Refund{
		ID:           id,
		OrderID:      orderID,
		AmountCents:  doc.AmountCents,
		Reason:       doc.Reason,
		ProcessorRef: doc.ProcessorRef,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt,
	}
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)
