package repositories

import (
	"context"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Refunds() RefundRepository
	StatusHistory() StatusHistoryRepository
	Messages() MessageRepository
	Customers() CustomerRepository
	Memberships() MembershipRepository
	Laundromats() LaundromatRepository
	Notifications() NotificationRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides the conditional writes
// the lifecycle service relies on for race safety.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// UpdateStatusIf sets the order status and the accompanying fields only when
	// the stored status still equals expected. A stale expectation returns a
	// RepositoryError with IsConflict.
	UpdateStatusIf(ctx context.Context, orderID string, expected domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)

	// ForceStatus writes the status without checking the stored value. Reserved
	// for the admin correction path; callers must audit the write themselves.
	ForceStatus(ctx context.Context, orderID string, update OrderStatusUpdate) (domain.Order, error)

	// ApplyWeightAdjustment records the one-time bag weighing outcome. Returns a
	// RepositoryError with IsConflict when the order was already adjusted.
	ApplyWeightAdjustment(ctx context.Context, orderID string, update WeightAdjustmentUpdate) (domain.Order, error)
}

// OrderStatusUpdate carries the fields written together with a status change.
type OrderStatusUpdate struct {
	Status            domain.OrderStatus
	DriverID          *string
	MeasuredWeightLb  *float64
	Payment           *domain.OrderPayment
	Totals            *domain.OrderTotals
	PickupPhotoPath   *string
	DeliveryPhotoPath *string
	CanceledAt        *time.Time
	UpdatedAt         time.Time
}

// WeightAdjustmentUpdate carries the weighing outcome and the repriced totals.
type WeightAdjustmentUpdate struct {
	Adjustment domain.WeightAdjustment
	Totals     domain.OrderTotals
	Payment    domain.OrderPayment
	UpdatedAt  time.Time
}

// RefundMirror refreshes the convenience fields on the order when a ledger row
// is appended. The ledger remains the source of truth.
type RefundMirror struct {
	PaymentStatus domain.PaymentStatus
	RefundedCents int64
	UpdatedAt     time.Time
}

// RefundRepository owns the append-only refund ledger per order.
type RefundRepository interface {
	// Append writes the ledger row and the order mirror fields in one transaction.
	Append(ctx context.Context, refund domain.Refund, mirror RefundMirror) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
	SumByOrder(ctx context.Context, orderID string) (int64, error)
}

// StatusHistoryRepository stores the append-only transition audit rows.
type StatusHistoryRepository interface {
	Append(ctx context.Context, change domain.StatusChange) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.StatusChange], error)
}

// MessageRepository stores staff notes on an order thread.
type MessageRepository interface {
	Append(ctx context.Context, message domain.OrderMessage) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderMessage], error)
}

// CustomerRepository stores customer profiles keyed by auth identity.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) error
	Update(ctx context.Context, customer domain.Customer) error
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByAuthUID(ctx context.Context, authUID string) (domain.Customer, error)
	FindByStripeCustomer(ctx context.Context, stripeCustomerID string) (domain.Customer, error)
}

// MembershipRepository stores subscription windows mirrored from the processor.
type MembershipRepository interface {
	Insert(ctx context.Context, membership domain.Membership) error
	Update(ctx context.Context, membership domain.Membership) error
	FindBySubscription(ctx context.Context, subscriptionID string) (domain.Membership, error)
	// FindCurrentByCustomer returns the most recent membership for the customer,
	// regardless of status. IsNotFound when none exists.
	FindCurrentByCustomer(ctx context.Context, customerID string) (domain.Membership, error)
}

// LaundromatRepository stores partner facilities and their routing data.
type LaundromatRepository interface {
	FindByID(ctx context.Context, laundromatID string) (domain.Laundromat, error)
	// FindByZip returns active facilities serving the ZIP, least busy first.
	FindByZip(ctx context.Context, zip string) ([]domain.Laundromat, error)
	// AssignOrder links the order to the facility and bumps its active load.
	AssignOrder(ctx context.Context, orderID string, laundromatID string, now time.Time) error
	// ReleaseOrder unlinks a finished or canceled order and drops the load count.
	ReleaseOrder(ctx context.Context, orderID string, laundromatID string, now time.Time) error
}

// NotificationRepository records send attempts; reads are for support tooling only.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error)
	// UpdateStatus applies a delivery receipt to a recorded attempt.
	// IsNotFound when the referenced attempt was never recorded.
	UpdateStatus(ctx context.Context, notificationID string, update NotificationStatusUpdate) error
}

// NotificationStatusUpdate carries the outcome reported by the relay callback.
type NotificationStatusUpdate struct {
	Status      domain.NotificationStatus
	Error       string
	DeliveredAt *time.Time
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLog], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthReport summarises dependency reachability for readiness probes.
type HealthReport struct {
	Healthy    bool
	Components map[string]string
	CheckedAt  time.Time
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	CustomerID   string
	LaundromatID string
	DriverID     string
	Status       []domain.OrderStatus
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type AuditLogFilter struct {
	EntityID   string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
