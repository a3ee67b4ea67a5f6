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

const customerCollection = "customers"

// CustomerRepository persists customer profiles keyed by our local id, with
// lookup indexes on the auth uid and the processor customer id.
type CustomerRepository struct {
	base     *pfirestore.BaseRepository[customerDocument]
	provider *pfirestore.Provider
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[customerDocument](provider, customerCollection, nil, nil)
	return &CustomerRepository{base: base, provider: provider}, nil
}

// Insert creates the customer, enforcing one profile per auth uid.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.provider == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer repository: customer id is required")
	}
	authUID := strings.TrimSpace(customer.AuthUID)
	if authUID == "" {
		return errors.New("customer repository: auth uid is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(customerCollection)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing := tx.Documents(coll.Where("authUid", "==", authUID).Limit(1))
		snaps, err := existing.GetAll()
		if err != nil {
			return err
		}
		if len(snaps) > 0 {
			return status.Errorf(codes.AlreadyExists, "customer exists for auth uid %s", authUID)
		}
		return tx.Create(coll.Doc(customer.ID), fromDomainCustomer(customer))
	})
	if err != nil {
		return pfirestore.WrapError("customers.insert", err)
	}
	return nil
}

// Update overwrites the stored profile.
func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer repository: customer id is required")
	}
	if _, err := r.base.Set(ctx, customer.ID, fromDomainCustomer(customer)); err != nil {
		return err
	}
	return nil
}

// FindByID loads the customer by local id.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	doc, err := r.base.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return toDomainCustomer(doc.ID, doc.Data), nil
}

// FindByAuthUID loads the customer by Firebase auth uid.
func (r *CustomerRepository) FindByAuthUID(ctx context.Context, authUID string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.findByAuthUid", "authUid", authUID)
}

// FindByStripeCustomer loads the customer by processor customer id.
func (r *CustomerRepository) FindByStripeCustomer(ctx context.Context, stripeCustomerID string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.findByStripeCustomer", "stripeCustomerId", stripeCustomerID)
}

func (r *CustomerRepository) findOne(ctx context.Context, op, field, value string) (domain.Customer, error) {
	if r == nil || r.provider == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Customer{}, fmt.Errorf("customer repository: %s is required", field)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	iter := client.Collection(customerCollection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Customer{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "no customer with %s %s", field, value))
	}
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError(op, err)
	}

	var doc customerDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Customer{}, fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
	}
	return toDomainCustomer(snap.Ref.ID, doc), nil
}

type customerDocument struct {
	AuthUID          string    `firestore:"authUid"`
	Email            string    `firestore:"email"`
	Phone            string    `firestore:"phone,omitempty"`
	DisplayName      string    `firestore:"displayName,omitempty"`
	PreferredLocale  string    `firestore:"preferredLocale,omitempty"`
	StripeCustomerID string    `firestore:"stripeCustomerId,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func fromDomainCustomer(customer domain.Customer) customerDocument {
	return customerDocument{
		AuthUID:          strings.TrimSpace(customer.AuthUID),
		Email:            strings.ToLower(strings.TrimSpace(customer.Email)),
		Phone:            strings.TrimSpace(customer.Phone),
		DisplayName:      strings.TrimSpace(customer.DisplayName),
		PreferredLocale:  strings.TrimSpace(customer.PreferredLocale),
		StripeCustomerID: strings.TrimSpace(customer.StripeCustomer),
		CreatedAt:        customer.CreatedAt.UTC(),
		UpdatedAt:        customer.UpdatedAt.UTC(),
	}
}

func toDomainCustomer(id string, doc customerDocument) domain.Customer {
	return domain.Customer{
		ID:              id,
		AuthUID:         doc.AuthUID,
		Email:           doc.Email,
		Phone:           doc.Phone,
		DisplayName:     doc.DisplayName,
		PreferredLocale: doc.PreferredLocale,
		StripeCustomer:  doc.StripeCustomerID,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)
