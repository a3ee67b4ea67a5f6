package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

var (
	// ErrRoutingInvalidInput signals the caller provided invalid data.
	ErrRoutingInvalidInput = errors.New("routing: invalid input")
	// ErrRoutingNoFacility indicates no active facility serves the pickup ZIP.
	ErrRoutingNoFacility = errors.New("routing: no facility serves zip")
)

// RoutingServiceDeps bundles the dependencies required to construct a routing service instance.
type RoutingServiceDeps struct {
	Laundromats repositories.LaundromatRepository
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type routingService struct {
	laundromats repositories.LaundromatRepository
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewRoutingService wires dependencies into a concrete RoutingService implementation.
func NewRoutingService(deps RoutingServiceDeps) (RoutingService, error) {
	if deps.Laundromats == nil {
		return nil, errors.New("routing service: laundromat repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &routingService{
		laundromats: deps.Laundromats,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *routingService) AssignNearest(ctx context.Context, orderID string, zip string) (Laundromat, error) {
	orderID = strings.TrimSpace(orderID)
	zip = strings.TrimSpace(zip)
	if orderID == "" || zip == "" {
		return Laundromat{}, fmt.Errorf("%w: order id and zip are required", ErrRoutingInvalidInput)
	}

	candidates, err := s.laundromats.FindByZip(ctx, zip)
	if err != nil {
		return Laundromat{}, err
	}

	now := s.clock()
	// Candidates arrive least busy first; the assignment bump can race with
	// another order, so fall through to the next facility on conflict.
	for _, facility := range candidates {
		if !facility.Active {
			continue
		}
		if err := s.laundromats.AssignOrder(ctx, orderID, facility.ID, now); err != nil {
			if isConflict(err) {
				s.logger(ctx, "routing.assign.retry", map[string]any{
					"orderId":      orderID,
					"laundromatId": facility.ID,
				})
				continue
			}
			return Laundromat{}, err
		}
		return facility, nil
	}

	return Laundromat{}, fmt.Errorf("%w: %s", ErrRoutingNoFacility, zip)
}

func (s *routingService) Release(ctx context.Context, orderID string, laundromatID string) error {
	orderID = strings.TrimSpace(orderID)
	laundromatID = strings.TrimSpace(laundromatID)
	if orderID == "" || laundromatID == "" {
		return fmt.Errorf("%w: order id and laundromat id are required", ErrRoutingInvalidInput)
	}
	return s.laundromats.ReleaseOrder(ctx, orderID, laundromatID, s.clock())
}
