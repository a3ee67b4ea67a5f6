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

const membershipIDPrefix = "mem_"

var (
	// ErrMembershipInvalidInput signals the caller provided invalid data.
	ErrMembershipInvalidInput = errors.New("membership: invalid input")
	// ErrMembershipNotFound indicates no membership exists for the subscription.
	ErrMembershipNotFound = errors.New("membership: not found")
	// ErrMembershipUnknownCustomer indicates the processor customer has no local profile.
	ErrMembershipUnknownCustomer = errors.New("membership: unknown processor customer")
)

// MembershipServiceDeps bundles the dependencies required to construct a membership service instance.
type MembershipServiceDeps struct {
	Memberships repositories.MembershipRepository
	Customers   repositories.CustomerRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type membershipService struct {
	memberships repositories.MembershipRepository
	customers   repositories.CustomerRepository
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewMembershipService wires dependencies into a concrete MembershipService implementation.
func NewMembershipService(deps MembershipServiceDeps) (MembershipService, error) {
	if deps.Memberships == nil {
		return nil, errors.New("membership service: membership repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("membership service: customer repository is required")
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
		logger = func(context.Context, string, map[string]any) {}
	}

	return &membershipService{
		memberships: deps.Memberships,
		customers:   deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *membershipService) ActiveMembership(ctx context.Context, customerID string) (Membership, bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Membership{}, false, fmt.Errorf("%w: customer id is required", ErrMembershipInvalidInput)
	}

	membership, err := s.memberships.FindCurrentByCustomer(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			return Membership{}, false, nil
		}
		return Membership{}, false, err
	}
	if !membership.ActiveAt(s.clock()) {
		return membership, false, nil
	}
	return membership, true, nil
}

func (s *membershipService) ApplySubscriptionCreated(ctx context.Context, cmd SubscriptionCreatedCommand) (Membership, error) {
	subscriptionID := strings.TrimSpace(cmd.SubscriptionID)
	if subscriptionID == "" {
		return Membership{}, fmt.Errorf("%w: subscription id is required", ErrMembershipInvalidInput)
	}

	// Webhook deliveries retry; an existing membership means a duplicate event.
	if existing, err := s.memberships.FindBySubscription(ctx, subscriptionID); err == nil {
		s.logger(ctx, "membership.subscription_created.duplicate", map[string]any{
			"subscriptionId": subscriptionID,
			"membershipId":   existing.ID,
		})
		return existing, nil
	} else if !isNotFound(err) {
		return Membership{}, err
	}

	customer, err := s.customers.FindByStripeCustomer(ctx, strings.TrimSpace(cmd.StripeCustomerID))
	if err != nil {
		if isNotFound(err) {
			return Membership{}, fmt.Errorf("%w: %s", ErrMembershipUnknownCustomer, cmd.StripeCustomerID)
		}
		return Membership{}, err
	}

	status := cmd.Status
	if status == "" {
		status = domain.MembershipActive
	}

	now := s.clock()
	membership := Membership{
		ID:             membershipIDPrefix + s.newID(),
		CustomerID:     customer.ID,
		Status:         status,
		SubscriptionID: subscriptionID,
		PeriodStart:    cmd.PeriodStart.UTC(),
		PeriodEnd:      cmd.PeriodEnd.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.memberships.Insert(ctx, membership); err != nil {
		if isConflict(err) {
			return s.memberships.FindBySubscription(ctx, subscriptionID)
		}
		return Membership{}, err
	}
	return membership, nil
}

func (s *membershipService) ApplyInvoicePaid(ctx context.Context, cmd InvoicePaidCommand) (Membership, error) {
	membership, err := s.findBySubscription(ctx, cmd.SubscriptionID)
	if err != nil {
		return Membership{}, err
	}

	membership.Status = domain.MembershipActive
	if !cmd.PeriodEnd.IsZero() && cmd.PeriodEnd.After(membership.PeriodEnd) {
		membership.PeriodEnd = cmd.PeriodEnd.UTC()
	}
	membership.UpdatedAt = s.clock()

	if err := s.memberships.Update(ctx, membership); err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (s *membershipService) ApplySubscriptionDeleted(ctx context.Context, cmd SubscriptionDeletedCommand) (Membership, error) {
	membership, err := s.findBySubscription(ctx, cmd.SubscriptionID)
	if err != nil {
		return Membership{}, err
	}
	if membership.Status == domain.MembershipCanceled {
		return membership, nil
	}

	canceledAt := cmd.CanceledAt.UTC()
	if canceledAt.IsZero() {
		canceledAt = s.clock()
	}
	membership.Status = domain.MembershipCanceled
	membership.CanceledAt = &canceledAt
	membership.UpdatedAt = s.clock()

	if err := s.memberships.Update(ctx, membership); err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (s *membershipService) findBySubscription(ctx context.Context, subscriptionID string) (Membership, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return Membership{}, fmt.Errorf("%w: subscription id is required", ErrMembershipInvalidInput)
	}
	membership, err := s.memberships.FindBySubscription(ctx, subscriptionID)
	if err != nil {
		if isNotFound(err) {
			return Membership{}, fmt.Errorf("%w: %s", ErrMembershipNotFound, subscriptionID)
		}
		return Membership{}, err
	}
	return membership, nil
}
