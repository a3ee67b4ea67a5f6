package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
)

type fakeLaundromatRepo struct {
	byZip       map[string][]domain.Laundromat
	assigned    map[string]string
	conflictFor map[string]bool
}

func newFakeLaundromatRepo() *fakeLaundromatRepo {
	return &fakeLaundromatRepo{
		byZip:       map[string][]domain.Laundromat{},
		assigned:    map[string]string{},
		conflictFor: map[string]bool{},
	}
}

func (r *fakeLaundromatRepo) FindByID(_ context.Context, laundromatID string) (domain.Laundromat, error) {
	for _, list := range r.byZip {
		for _, facility := range list {
			if facility.ID == laundromatID {
				return facility, nil
			}
		}
	}
	return domain.Laundromat{}, stubRepoError{msg: "missing", notFound: true}
}

func (r *fakeLaundromatRepo) FindByZip(_ context.Context, zip string) ([]domain.Laundromat, error) {
	return r.byZip[zip], nil
}

func (r *fakeLaundromatRepo) AssignOrder(_ context.Context, orderID string, laundromatID string, _ time.Time) error {
	if r.conflictFor[laundromatID] {
		return stubRepoError{msg: "load changed", conflict: true}
	}
	r.assigned[orderID] = laundromatID
	return nil
}

func (r *fakeLaundromatRepo) ReleaseOrder(_ context.Context, orderID string, laundromatID string, _ time.Time) error {
	if r.assigned[orderID] != laundromatID {
		return stubRepoError{msg: "not assigned", notFound: true}
	}
	delete(r.assigned, orderID)
	return nil
}

func routingFixture(t *testing.T, repo *fakeLaundromatRepo) RoutingService {
	t.Helper()
	service, err := NewRoutingService(RoutingServiceDeps{Laundromats: repo})
	if err != nil {
		t.Fatalf("NewRoutingService returned error: %v", err)
	}
	return service
}

func TestAssignNearestPicksFirstActiveFacility(t *testing.T) {
	repo := newFakeLaundromatRepo()
	repo.byZip["48201"] = []domain.Laundromat{
		{ID: "lm_idle", Active: true, ActiveOrderCount: 1},
		{ID: "lm_busy", Active: true, ActiveOrderCount: 9},
	}
	service := routingFixture(t, repo)

	facility, err := service.AssignNearest(context.Background(), "ord_1", "48201")
	if err != nil {
		t.Fatalf("AssignNearest returned error: %v", err)
	}
	if facility.ID != "lm_idle" {
		t.Fatalf("expected the least busy facility, got %q", facility.ID)
	}
	if repo.assigned["ord_1"] != "lm_idle" {
		t.Fatalf("expected the assignment persisted")
	}
}

func TestAssignNearestSkipsInactiveAndConflicted(t *testing.T) {
	repo := newFakeLaundromatRepo()
	repo.byZip["48201"] = []domain.Laundromat{
		{ID: "lm_closed", Active: false},
		{ID: "lm_racing", Active: true},
		{ID: "lm_open", Active: true},
	}
	repo.conflictFor["lm_racing"] = true
	service := routingFixture(t, repo)

	facility, err := service.AssignNearest(context.Background(), "ord_1", "48201")
	if err != nil {
		t.Fatalf("AssignNearest returned error: %v", err)
	}
	if facility.ID != "lm_open" {
		t.Fatalf("expected the conflict-free facility, got %q", facility.ID)
	}
}

func TestAssignNearestNoFacility(t *testing.T) {
	service := routingFixture(t, newFakeLaundromatRepo())

	if _, err := service.AssignNearest(context.Background(), "ord_1", "99999"); !errors.Is(err, ErrRoutingNoFacility) {
		t.Fatalf("expected ErrRoutingNoFacility, got %v", err)
	}
}

func TestReleaseUnassignsOrder(t *testing.T) {
	repo := newFakeLaundromatRepo()
	repo.byZip["48201"] = []domain.Laundromat{{ID: "lm_open", Active: true}}
	service := routingFixture(t, repo)

	if _, err := service.AssignNearest(context.Background(), "ord_1", "48201"); err != nil {
		t.Fatalf("AssignNearest returned error: %v", err)
	}
	if err := service.Release(context.Background(), "ord_1", "lm_open"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, ok := repo.assigned["ord_1"]; ok {
		t.Fatalf("expected the order released")
	}
}
