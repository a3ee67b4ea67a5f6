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

const membershipCollection = "memberships"

// MembershipRepository stores subscription windows mirrored from the processor.
type MembershipRepository struct {
	base     *pfirestore.BaseRepository[membershipDocument]
	provider *pfirestore.Provider
}

// NewMembershipRepository constructs a Firestore-backed membership repository.
func NewMembershipRepository(provider *pfirestore.Provider) (*MembershipRepository, error) {
	if provider == nil {
		return nil, errors.New("membership repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[membershipDocument](provider, membershipCollection, nil, nil)
	return &MembershipRepository{base: base, provider: provider}, nil
}

// Insert creates the membership, enforcing one document per subscription id so
// redelivered webhooks cannot duplicate rows.
func (r *MembershipRepository) Insert(ctx context.Context, membership domain.Membership) error {
	if r == nil || r.provider == nil {
		return errors.New("membership repository not initialised")
	}
	if strings.TrimSpace(membership.ID) == "" {
		return errors.New("membership repository: membership id is required")
	}
	subscriptionID := strings.TrimSpace(membership.SubscriptionID)
	if subscriptionID == "" {
		return errors.New("membership repository: subscription id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(membershipCollection)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing := tx.Documents(coll.Where("subscriptionId", "==", subscriptionID).Limit(1))
		snaps, err := existing.GetAll()
		if err != nil {
			return err
		}
		if len(snaps) > 0 {
			return status.Errorf(codes.AlreadyExists, "membership exists for subscription %s", subscriptionID)
		}
		return tx.Create(coll.Doc(membership.ID), fromDomainMembership(membership))
	})
	if err != nil {
		return pfirestore.WrapError("memberships.insert", err)
	}
	return nil
}

// Update overwrites the stored membership.
func (r *MembershipRepository) Update(ctx context.Context, membership domain.Membership) error {
	if r == nil || r.base == nil {
		return errors.New("membership repository not initialised")
	}
	if strings.TrimSpace(membership.ID) == "" {
		return errors.New("membership repository: membership id is required")
	}
	if _, err := r.base.Set(ctx, membership.ID, fromDomainMembership(membership)); err != nil {
		return err
	}
	return nil
}

// FindBySubscription loads the membership mirroring the given subscription.
func (r *MembershipRepository) FindBySubscription(ctx context.Context, subscriptionID string) (domain.Membership, error) {
	if r == nil || r.provider == nil {
		return domain.Membership{}, errors.New("membership repository not initialised")
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return domain.Membership{}, errors.New("membership repository: subscription id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Membership{}, err
	}

	iter := client.Collection(membershipCollection).
		Where("subscriptionId", "==", subscriptionID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Membership{}, pfirestore.WrapError("memberships.findBySubscription",
			status.Errorf(codes.NotFound, "no membership for subscription %s", subscriptionID))
	}
	if err != nil {
		return domain.Membership{}, pfirestore.WrapError("memberships.findBySubscription", err)
	}

	var doc membershipDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Membership{}, fmt.Errorf("memberships.findBySubscription: decode %s: %w", snap.Ref.ID, err)
	}
	return toDomainMembership(snap.Ref.ID, doc), nil
}

// FindCurrentByCustomer returns the customer's most recent membership regardless of status.
func (r *MembershipRepository) FindCurrentByCustomer(ctx context.Context, customerID string) (domain.Membership, error) {
	if r == nil || r.provider == nil {
		return domain.Membership{}, errors.New("membership repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Membership{}, errors.New("membership repository: customer id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Membership{}, err
	}

	iter := client.Collection(membershipCollection).
		Where("customerId", "==", customerID).
		OrderBy("createdAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Membership{}, pfirestore.WrapError("memberships.findCurrent",
			status.Errorf(codes.NotFound, "no membership for customer %s", customerID))
	}
	if err != nil {
		return domain.Membership{}, pfirestore.WrapError("memberships.findCurrent", err)
	}

	var doc membershipDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Membership{}, fmt.Errorf("memberships.findCurrent: decode %s: %w", snap.Ref.ID, err)
	}
	return toDomainMembership(snap.Ref.ID, doc), nil
}

type membershipDocument struct {
	CustomerID     string     `firestore:"customerId"`
	Status         string     `firestore:"status"`
	SubscriptionID string     `firestore:"subscriptionId"`
	PeriodStart    time.Time  `firestore:"periodStart"`
	PeriodEnd      time.Time  `firestore:"periodEnd"`
	CanceledAt     *time.Time `firestore:"canceledAt,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

func fromDomainMembership(membership domain.Membership) membershipDocument {
	doc := membershipDocument{
		CustomerID:     strings.TrimSpace(membership.CustomerID),
		Status:         string(membership.Status),
		SubscriptionID: strings.TrimSpace(membership.SubscriptionID),
		PeriodStart:    membership.PeriodStart.UTC(),
		PeriodEnd:      membership.PeriodEnd.UTC(),
		CreatedAt:      membership.CreatedAt.UTC(),
		UpdatedAt:      membership.UpdatedAt.UTC(),
	}
	if membership.CanceledAt != nil {
		canceled := membership.CanceledAt.UTC()
		doc.CanceledAt = &canceled
	}
	return doc
}

func toDomainMembership(id string, doc membershipDocument) domain.Membership {
	return domain.Membership{
		ID:             id,
		CustomerID:     doc.CustomerID,
		Status:         domain.MembershipStatus(doc.Status),
		SubscriptionID: doc.SubscriptionID,
		PeriodStart:    doc.PeriodStart,
		PeriodEnd:      doc.PeriodEnd,
		CanceledAt:     doc.CanceledAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

var _ repositories.MembershipRepository = (*MembershipRepository)(nil)
