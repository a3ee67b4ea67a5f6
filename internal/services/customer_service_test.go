package services

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
)

type fakeCustomerRepo struct {
	byAuthUID map[string]domain.Customer
}

func newFakeCustomerRepo(customers ...domain.Customer) *fakeCustomerRepo {
	repo := &fakeCustomerRepo{byAuthUID: map[string]domain.Customer{}}
	for _, customer := range customers {
		repo.byAuthUID[customer.AuthUID] = customer
	}
	return repo
}

func (r *fakeCustomerRepo) Insert(_ context.Context, customer domain.Customer) error {
	if _, ok := r.byAuthUID[customer.AuthUID]; ok {
		return stubRepoError{msg: "duplicate", conflict: true}
	}
	r.byAuthUID[customer.AuthUID] = customer
	return nil
}

func (r *fakeCustomerRepo) Update(_ context.Context, customer domain.Customer) error {
	if _, ok := r.byAuthUID[customer.AuthUID]; !ok {
		return stubRepoError{msg: "missing", notFound: true}
	}
	r.byAuthUID[customer.AuthUID] = customer
	return nil
}

func (r *fakeCustomerRepo) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	for _, customer := range r.byAuthUID {
		if customer.ID == customerID {
			return customer, nil
		}
	}
	return domain.Customer{}, stubRepoError{msg: "missing", notFound: true}
}

func (r *fakeCustomerRepo) FindByAuthUID(_ context.Context, authUID string) (domain.Customer, error) {
	customer, ok := r.byAuthUID[authUID]
	if !ok {
		return domain.Customer{}, stubRepoError{msg: "missing", notFound: true}
	}
	return customer, nil
}

func (r *fakeCustomerRepo) FindByStripeCustomer(_ context.Context, stripeCustomerID string) (domain.Customer, error) {
	for _, customer := range r.byAuthUID {
		if customer.StripeCustomer == stripeCustomerID {
			return customer, nil
		}
	}
	return domain.Customer{}, stubRepoError{msg: "missing", notFound: true}
}

type fakeUserGetter struct {
	records map[string]*firebaseauth.UserRecord
}

func (g *fakeUserGetter) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	record, ok := g.records[uid]
	if !ok {
		return nil, errors.New("user not found")
	}
	return record, nil
}

func newCustomerService(t *testing.T, repo *fakeCustomerRepo, getter *fakeUserGetter) CustomerService {
	t.Helper()

	counter := 0
	deps := CustomerServiceDeps{
		Customers: repo,
		Clock:     func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			counter++
			return "seq" + string(rune('0'+counter))
		},
	}
	// A nil *fakeUserGetter stored in the interface field is not a nil interface.
	if getter != nil {
		deps.Firebase = getter
	}
	service, err := NewCustomerService(deps)
	if err != nil {
		t.Fatalf("NewCustomerService returned error: %v", err)
	}
	return service
}

func TestEnsureCustomerCreatesProfile(t *testing.T) {
	repo := newFakeCustomerRepo()
	service := newCustomerService(t, repo, nil)

	customer, err := service.EnsureCustomer(context.Background(), EnsureCustomerCommand{
		AuthUID: "uid-new",
		Email:   "Jordan@Example.COM",
		Phone:   "+1 313 555 0100",
	})
	if err != nil {
		t.Fatalf("EnsureCustomer returned error: %v", err)
	}
	if customer.Email != "jordan@example.com" {
		t.Fatalf("email must be lowercased, got %q", customer.Email)
	}
	if customer.ID == "" || customer.AuthUID != "uid-new" {
		t.Fatalf("unexpected identity fields: %+v", customer)
	}
	if _, err := repo.FindByAuthUID(context.Background(), "uid-new"); err != nil {
		t.Fatalf("profile was not persisted: %v", err)
	}
}

func TestEnsureCustomerIsIdempotent(t *testing.T) {
	repo := newFakeCustomerRepo(domain.Customer{
		ID:      "cus_local_seq1",
		AuthUID: "uid-1",
		Email:   "first@example.com",
	})
	service := newCustomerService(t, repo, nil)

	customer, err := service.EnsureCustomer(context.Background(), EnsureCustomerCommand{
		AuthUID: "uid-1",
		Email:   "second@example.com",
	})
	if err != nil {
		t.Fatalf("EnsureCustomer returned error: %v", err)
	}
	if customer.ID != "cus_local_seq1" {
		t.Fatalf("existing profile must be reused, got %q", customer.ID)
	}
	if customer.Email != "first@example.com" {
		t.Fatalf("existing contact fields must not be overwritten, got %q", customer.Email)
	}
}

func TestEnsureCustomerBackfillsFromAuthProvider(t *testing.T) {
	repo := newFakeCustomerRepo()
	getter := &fakeUserGetter{records: map[string]*firebaseauth.UserRecord{
		"uid-fb": {UserInfo: &firebaseauth.UserInfo{
			UID:         "uid-fb",
			Email:       "FB@Example.com",
			DisplayName: "Sam Rivera",
		}},
	}}
	service := newCustomerService(t, repo, getter)

	customer, err := service.EnsureCustomer(context.Background(), EnsureCustomerCommand{AuthUID: "uid-fb"})
	if err != nil {
		t.Fatalf("EnsureCustomer returned error: %v", err)
	}
	if customer.Email != "fb@example.com" {
		t.Fatalf("expected email backfilled from auth record, got %q", customer.Email)
	}
	if customer.DisplayName != "Sam Rivera" {
		t.Fatalf("expected display name backfilled, got %q", customer.DisplayName)
	}
}

func TestUpdateProfileCanonicalisesLocale(t *testing.T) {
	repo := newFakeCustomerRepo(domain.Customer{
		ID:      "cus_local_seq1",
		AuthUID: "uid-1",
		Email:   "first@example.com",
	})
	service := newCustomerService(t, repo, nil)

	locale := "en_US"
	customer, err := service.UpdateProfile(context.Background(), UpdateCustomerCommand{
		AuthUID:         "uid-1",
		PreferredLocale: &locale,
	})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if customer.PreferredLocale != "en-US" {
		t.Fatalf("expected canonical en-US, got %q", customer.PreferredLocale)
	}

	bad := "not a locale!!"
	if _, err := service.UpdateProfile(context.Background(), UpdateCustomerCommand{
		AuthUID:         "uid-1",
		PreferredLocale: &bad,
	}); !errors.Is(err, ErrCustomerInvalidLocale) {
		t.Fatalf("expected ErrCustomerInvalidLocale, got %v", err)
	}
}

func TestUpdateProfileRejectsBadPhone(t *testing.T) {
	repo := newFakeCustomerRepo(domain.Customer{
		ID:      "cus_local_seq1",
		AuthUID: "uid-1",
		Email:   "first@example.com",
	})
	service := newCustomerService(t, repo, nil)

	phone := "call me maybe"
	if _, err := service.UpdateProfile(context.Background(), UpdateCustomerCommand{
		AuthUID: "uid-1",
		Phone:   &phone,
	}); !errors.Is(err, ErrCustomerInvalidInput) {
		t.Fatalf("expected ErrCustomerInvalidInput, got %v", err)
	}
}

func TestGetByAuthUIDNotFound(t *testing.T) {
	service := newCustomerService(t, newFakeCustomerRepo(), nil)

	if _, err := service.GetByAuthUID(context.Background(), "uid-missing"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}
