package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const laundromatCollection = "laundromats"

// LaundromatRepository stores partner facilities and keeps their active order
// counters in step with order assignment.
type LaundromatRepository struct {
	base     *pfirestore.BaseRepository[laundromatDocument]
	provider *pfirestore.Provider
}

// NewLaundromatRepository constructs a Firestore-backed laundromat repository.
func NewLaundromatRepository(provider *pfirestore.Provider) (*LaundromatRepository, error) {
	if provider == nil {
		return nil, errors.New("laundromat repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[laundromatDocument](provider, laundromatCollection, nil, nil)
	return &LaundromatRepository{base: base, provider: provider}, nil
}

// FindByID loads a single facility.
func (r *LaundromatRepository) FindByID(ctx context.Context, laundromatID string) (domain.Laundromat, error) {
	if r == nil || r.base == nil {
		return domain.Laundromat{}, errors.New("laundromat repository not initialised")
	}
	doc, err := r.base.Get(ctx, laundromatID)
	if err != nil {
		return domain.Laundromat{}, err
	}
	return toDomainLaundromat(doc.ID, doc.Data), nil
}

// FindByZip returns active facilities serving the ZIP, least busy first.
func (r *LaundromatRepository) FindByZip(ctx context.Context, zip string) ([]domain.Laundromat, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("laundromat repository not initialised")
	}
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return nil, errors.New("laundromat repository: zip is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(laundromatCollection).
		Where("servedZipCodes", "array-contains", zip).
		Where("active", "==", true).
		OrderBy("activeOrderCount", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var facilities []domain.Laundromat
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("laundromats.findByZip", err)
		}
		var doc laundromatDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("laundromats.findByZip: decode %s: %w", snap.Ref.ID, err)
		}
		facilities = append(facilities, toDomainLaundromat(snap.Ref.ID, doc))
	}
	return facilities, nil
}

// AssignOrder links the order to the facility and bumps its active load. An
// order already routed to a different facility aborts with a conflict.
func (r *LaundromatRepository) AssignOrder(ctx context.Context, orderID string, laundromatID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("laundromat repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	laundromatID = strings.TrimSpace(laundromatID)
	if orderID == "" || laundromatID == "" {
		return errors.New("laundromat repository: order id and laundromat id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	orderRef := client.Collection(orderCollection).Doc(orderID)
	facilityRef := client.Collection(laundromatCollection).Doc(laundromatID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		assigned, err := orderSnap.DataAt("laundromatId")
		if err == nil {
			if current, ok := assigned.(string); ok && current != "" && current != laundromatID {
				return status.Errorf(codes.Aborted, "order %s already assigned to %s", orderID, current)
			}
		}
		if _, err := tx.Get(facilityRef); err != nil {
			return err
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "laundromatId", Value: laundromatID},
			{Path: "updatedAt", Value: now.UTC()},
		}); err != nil {
			return err
		}
		return tx.Update(facilityRef, []firestore.Update{
			{Path: "activeOrderCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	if err != nil {
		return pfirestore.WrapError("laundromats.assign", err)
	}
	return nil
}

// ReleaseOrder unlinks a finished or canceled order and drops the load count.
func (r *LaundromatRepository) ReleaseOrder(ctx context.Context, orderID string, laundromatID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("laundromat repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	laundromatID = strings.TrimSpace(laundromatID)
	if orderID == "" || laundromatID == "" {
		return errors.New("laundromat repository: order id and laundromat id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	orderRef := client.Collection(orderCollection).Doc(orderID)
	facilityRef := client.Collection(laundromatCollection).Doc(laundromatID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		assigned, err := orderSnap.DataAt("laundromatId")
		if err != nil {
			return err
		}
		current, _ := assigned.(string)
		if current != laundromatID {
			// Already released or routed elsewhere, nothing to undo.
			return nil
		}

		facilitySnap, err := tx.Get(facilityRef)
		if err != nil {
			return err
		}
		var facility laundromatDocument
		if err := facilitySnap.DataTo(&facility); err != nil {
			return fmt.Errorf("decode laundromat %s: %w", laundromatID, err)
		}

		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "laundromatId", Value: ""},
			{Path: "updatedAt", Value: now.UTC()},
		}); err != nil {
			return err
		}

		count := facility.ActiveOrderCount - 1
		if count < 0 {
			count = 0
		}
		return tx.Update(facilityRef, []firestore.Update{
			{Path: "activeOrderCount", Value: count},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	if err != nil {
		return pfirestore.WrapError("laundromats.release", err)
	}
	return nil
}

type laundromatDocument struct {
	Name             string          `firestore:"name"`
	Phone            string          `firestore:"phone,omitempty"`
	Address          addressDocument `firestore:"address"`
	ServedZipCodes   []string        `firestore:"servedZipCodes"`
	ActiveOrderCount int64           `firestore:"activeOrderCount"`
	Active           bool            `firestore:"active"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
}

func toDomainLaundromat(id string, doc laundromatDocument) domain.Laundromat {
	return domain.Laundromat{
		ID:               id,
		Name:             doc.Name,
		Phone:            doc.Phone,
		Address:          toDomainAddress(doc.Address),
		ServedZipCodes:   doc.ServedZipCodes,
		ActiveOrderCount: doc.ActiveOrderCount,
		Active:           doc.Active,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

var _ repositories.LaundromatRepository = (*LaundromatRepository)(nil)
