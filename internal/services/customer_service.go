package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const customerIDPrefix = "cus_local_"

var (
	// ErrCustomerInvalidInput signals the caller provided invalid data.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates no profile exists for the auth identity.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrCustomerInvalidLocale indicates the supplied locale tag is invalid.
	ErrCustomerInvalidLocale = errors.New("customer: invalid locale")

	customerPhonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

// CustomerServiceDeps bundles the dependencies required to construct a customer service instance.
type CustomerServiceDeps struct {
	Customers   repositories.CustomerRepository
	Firebase    auth.UserGetter
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type customerService struct {
	customers repositories.CustomerRepository
	firebase  auth.UserGetter
	audit     AuditLogService
	clock     func() time.Time
	newID     func() string
}

// NewCustomerService wires dependencies into a concrete CustomerService implementation.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
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

	return &customerService{
		customers: deps.Customers,
		firebase:  deps.Firebase,
		audit:     deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *customerService) EnsureCustomer(ctx context.Context, cmd EnsureCustomerCommand) (Customer, error) {
	authUID := strings.TrimSpace(cmd.AuthUID)
	if authUID == "" {
		return Customer{}, fmt.Errorf("%w: auth uid is required", ErrCustomerInvalidInput)
	}

	existing, err := s.customers.FindByAuthUID(ctx, authUID)
	if err == nil {
		return s.refreshContact(ctx, existing, cmd)
	}
	if !isNotFound(err) {
		return Customer{}, err
	}

	fresh := Customer{
		ID:          customerIDPrefix + s.newID(),
		AuthUID:     authUID,
		Email:       strings.ToLower(strings.TrimSpace(cmd.Email)),
		Phone:       strings.TrimSpace(cmd.Phone),
		DisplayName: strings.TrimSpace(cmd.DisplayName),
	}

	// Backfill missing contact fields from the auth provider when available.
	if s.firebase != nil && (fresh.Email == "" || fresh.DisplayName == "") {
		if record, err := s.firebase.GetUser(ctx, authUID); err == nil {
			mergeAuthRecord(&fresh, record)
		}
	}
	if fresh.Email == "" {
		return Customer{}, fmt.Errorf("%w: email is required", ErrCustomerInvalidInput)
	}

	now := s.clock()
	fresh.CreatedAt = now
	fresh.UpdatedAt = now
	if err := s.customers.Insert(ctx, fresh); err != nil {
		// A parallel request may have created the profile first.
		if isConflict(err) {
			return s.customers.FindByAuthUID(ctx, authUID)
		}
		return Customer{}, err
	}
	return fresh, nil
}

func (s *customerService) GetByAuthUID(ctx context.Context, authUID string) (Customer, error) {
	authUID = strings.TrimSpace(authUID)
	if authUID == "" {
		return Customer{}, fmt.Errorf("%w: auth uid is required", ErrCustomerInvalidInput)
	}
	customer, err := s.customers.FindByAuthUID(ctx, authUID)
	if err != nil {
		if isNotFound(err) {
			return Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, authUID)
		}
		return Customer{}, err
	}
	return customer, nil
}

func (s *customerService) UpdateProfile(ctx context.Context, cmd UpdateCustomerCommand) (Customer, error) {
	customer, err := s.GetByAuthUID(ctx, cmd.AuthUID)
	if err != nil {
		return Customer{}, err
	}

	changes := make(map[string]any)

	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if phone != "" && !customerPhonePattern.MatchString(phone) {
			return Customer{}, fmt.Errorf("%w: invalid phone number", ErrCustomerInvalidInput)
		}
		if phone != customer.Phone {
			changes["phone"] = map[string]any{"from": customer.Phone, "to": phone}
			customer.Phone = phone
		}
	}

	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if count := utf8.RuneCountInString(name); name != "" && (count < 2 || count > 100) {
			return Customer{}, fmt.Errorf("%w: display name must be 2-100 characters", ErrCustomerInvalidInput)
		}
		if name != customer.DisplayName {
			changes["displayName"] = map[string]any{"from": customer.DisplayName, "to": name}
			customer.DisplayName = name
		}
	}

	if cmd.PreferredLocale != nil {
		canonical, err := canonicalLocale(*cmd.PreferredLocale)
		if err != nil {
			return Customer{}, err
		}
		if canonical != customer.PreferredLocale {
			changes["preferredLocale"] = map[string]any{"from": customer.PreferredLocale, "to": canonical}
			customer.PreferredLocale = canonical
		}
	}

	if len(changes) == 0 {
		return customer, nil
	}

	customer.UpdatedAt = s.clock()
	if err := s.customers.Update(ctx, customer); err != nil {
		return Customer{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:    customer.AuthUID,
			Action:   "customer.profile.update",
			Entity:   "customer",
			EntityID: customer.ID,
			Metadata: changes,
		})
	}

	return customer, nil
}

// refreshContact backfills contact fields supplied at checkout that the stored
// profile is missing. Existing values are never overwritten.
func (s *customerService) refreshContact(ctx context.Context, customer Customer, cmd EnsureCustomerCommand) (Customer, error) {
	dirty := false
	if customer.Email == "" {
		if email := strings.ToLower(strings.TrimSpace(cmd.Email)); email != "" {
			customer.Email = email
			dirty = true
		}
	}
	if customer.Phone == "" {
		if phone := strings.TrimSpace(cmd.Phone); phone != "" {
			customer.Phone = phone
			dirty = true
		}
	}
	if !dirty {
		return customer, nil
	}
	customer.UpdatedAt = s.clock()
	if err := s.customers.Update(ctx, customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// canonicalLocale normalises a BCP 47 tag, accepting underscore separators.
func canonicalLocale(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Join(ErrCustomerInvalidLocale, err)
	}
	return parsed.String(), nil
}

func mergeAuthRecord(customer *domain.Customer, record *firebaseauth.UserRecord) {
	if record == nil || record.UserInfo == nil {
		return
	}
	if customer.Email == "" {
		customer.Email = strings.ToLower(strings.TrimSpace(record.UserInfo.Email))
	}
	if customer.Phone == "" {
		customer.Phone = strings.TrimSpace(record.UserInfo.PhoneNumber)
	}
	if customer.DisplayName == "" {
		customer.DisplayName = strings.TrimSpace(record.UserInfo.DisplayName)
	}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
