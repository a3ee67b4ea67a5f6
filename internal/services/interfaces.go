package services

import (
	"context"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderTotals         = domain.OrderTotals
	OrderPayment        = domain.OrderPayment
	OrderAddOn          = domain.OrderAddOn
	PaymentStatus       = domain.PaymentStatus
	PricingModel        = domain.PricingModel
	BagSize             = domain.BagSize
	WeightAdjustment    = domain.WeightAdjustment
	PerPoundPrice       = domain.PerPoundPrice
	OverweightResult    = domain.OverweightResult
	Refund              = domain.Refund
	StatusChange        = domain.StatusChange
	OrderMessage        = domain.OrderMessage
	Customer            = domain.Customer
	Membership          = domain.Membership
	Laundromat          = domain.Laundromat
	Notification        = domain.Notification
	NotificationChannel = domain.NotificationChannel
	AuditLog            = domain.AuditLog
	Address             = domain.Address
	TimeWindow          = domain.TimeWindow
	OrderEvent          = domain.OrderEvent
)

// OrderService orchestrates the order lifecycle: creation, status transitions,
// cancellation, and the staff message thread.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (TransitionStatusResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error)
	AddMessage(ctx context.Context, cmd AddMessageCommand) (OrderMessage, error)
	ListStatusHistory(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[StatusChange], error)
}

// BillingService owns the money-moving flows: bag weight adjustment, per-pound
// final capture, and the admin refund path over the append-only ledger.
type BillingService interface {
	AdjustWeight(ctx context.Context, cmd AdjustWeightCommand) (Order, error)
	CaptureFinalPayment(ctx context.Context, cmd CaptureFinalPaymentCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error)
	ListRefunds(ctx context.Context, orderID string) ([]Refund, error)
}

// CustomerService resolves and maintains customer profiles keyed by auth identity.
type CustomerService interface {
	EnsureCustomer(ctx context.Context, cmd EnsureCustomerCommand) (Customer, error)
	GetByAuthUID(ctx context.Context, authUID string) (Customer, error)
	UpdateProfile(ctx context.Context, cmd UpdateCustomerCommand) (Customer, error)
}

// MembershipService answers membership questions and applies processor webhook events.
type MembershipService interface {
	ActiveMembership(ctx context.Context, customerID string) (Membership, bool, error)
	ApplySubscriptionCreated(ctx context.Context, cmd SubscriptionCreatedCommand) (Membership, error)
	ApplyInvoicePaid(ctx context.Context, cmd InvoicePaidCommand) (Membership, error)
	ApplySubscriptionDeleted(ctx context.Context, cmd SubscriptionDeletedCommand) (Membership, error)
}

// RoutingService picks the partner facility for new orders by pickup ZIP.
type RoutingService interface {
	AssignNearest(ctx context.Context, orderID string, zip string) (Laundromat, error)
	Release(ctx context.Context, orderID string, laundromatID string) error
}

// NotificationService delivers templated messages and records every attempt.
// Sends are best effort; failures are logged and never propagate to callers.
type NotificationService interface {
	NotifyOrder(ctx context.Context, cmd OrderNotificationCommand)
	// ApplyDeliveryReceipt updates a recorded attempt with the outcome the
	// relay reported through its callback.
	ApplyDeliveryReceipt(ctx context.Context, cmd DeliveryReceiptCommand) (Notification, error)
}

// EventPublisher pushes order events onto the event topic.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// EmailSender delivers one templated transactional email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// SMSSender delivers one templated SMS. Implementations append opt-out compliance text.
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) error
}

// PhotoService issues signed upload URLs for driver pickup/delivery photos.
type PhotoService interface {
	IssueUploadURL(ctx context.Context, cmd PhotoUploadCommand) (PhotoUploadResult, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLog], error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (repositories.HealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// Actor identifies who performed an operation, for audit trails and authorship.
type Actor struct {
	ID    string
	Roles []string
	IP    string
}

type CreateOrderCommand struct {
	AuthUID           string
	Email             string
	Phone             string
	PricingModel      PricingModel
	EstimatedWeightLb float64
	PickupDate        time.Time
	// PickupWindow accepts either a window id or a human label such as "morning".
	PickupWindow    string
	DeliveryWindow  string
	PickupAddress   Address
	DeliveryAddress *Address
	AddOns          []OrderAddOn
	Rush            bool
	Notes           string
}

type CreateOrderResult struct {
	Order Order
	// ClientSecret is handed to the caller to complete the payment client-side.
	ClientSecret string
}

type GetOrderCommand struct {
	OrderID string
	Actor   Actor
}

type OrderListFilter struct {
	CustomerID   string
	LaundromatID string
	DriverID     string
	Status       []OrderStatus
	DateRange    domain.RangeQuery[time.Time]
	Pagination   Pagination
}

type TransitionStatusCommand struct {
	OrderID        string
	To             OrderStatus
	Actor          Actor
	ActualWeightLb *float64
	DriverID       string
	PhotoPath      string
	Note           string
	// SkipValidation bypasses the transition table. Admin-only escape hatch for
	// manual correction; the write is audited like any other transition.
	SkipValidation bool
}

type TransitionStatusResult struct {
	Order        Order
	ChangedAt    time.Time
	ValidTargets []OrderStatus
}

type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
	// ByOps marks an operations-initiated cancellation instead of the customer's own.
	ByOps bool
}

type CancelOrderResult struct {
	Order                 Order
	RefundCents           int64
	AuthorizationReleased bool
}

type AddMessageCommand struct {
	OrderID string
	Actor   Actor
	Body    string
}

type AdjustWeightCommand struct {
	OrderID        string
	ActualWeightLb float64
	Actor          Actor
}

type CaptureFinalPaymentCommand struct {
	OrderID        string
	ActualWeightLb float64
	AddOns         []OrderAddOn
	RushFeeCents   int64
	Actor          Actor
}

type RefundCommand struct {
	OrderID     string
	AmountCents int64
	Reason      string
	Actor       Actor
}

type RefundResult struct {
	Refund         Refund
	RemainingCents int64
	FullRefund     bool
}

type EnsureCustomerCommand struct {
	AuthUID     string
	Email       string
	Phone       string
	DisplayName string
}

type UpdateCustomerCommand struct {
	AuthUID         string
	Phone           *string
	DisplayName     *string
	PreferredLocale *string
}

type SubscriptionCreatedCommand struct {
	SubscriptionID   string
	StripeCustomerID string
	Status           domain.MembershipStatus
	PeriodStart      time.Time
	PeriodEnd        time.Time
}

type InvoicePaidCommand struct {
	SubscriptionID string
	PeriodEnd      time.Time
}

type SubscriptionDeletedCommand struct {
	SubscriptionID string
	CanceledAt     time.Time
}

type OrderNotificationCommand struct {
	Order    Order
	Customer Customer
	Template string
	Channels []NotificationChannel
	Data     map[string]any
}

// DeliveryReceiptCommand carries one relay callback for a recorded attempt.
// Ref is the notification id the send was submitted under.
type DeliveryReceiptCommand struct {
	Ref        string
	Status     string
	Detail     string
	OccurredAt time.Time
}

// EmailMessage is one templated email. Ref ties the relay's delivery receipt
// back to the recorded notification.
type EmailMessage struct {
	To       string
	Template string
	Ref      string
	Data     map[string]any
}

type SMSMessage struct {
	To       string
	Template string
	Ref      string
	Data     map[string]any
}

type PhotoUploadCommand struct {
	OrderID     string
	Actor       Actor
	Kind        string
	ContentType string
}

type PhotoUploadResult struct {
	UploadURL  string
	ObjectPath string
	ExpiresAt  time.Time
}

type AuditLogRecord struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Reason   string
	IP       string
	Metadata map[string]any
}

type AuditLogFilter struct {
	EntityID   string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}
