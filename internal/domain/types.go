package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage bundles a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PricingModel identifies how an order is priced.
type PricingModel string

const (
	// PricingPerPound prices the order by measured weight against a per-pound rate.
	PricingPerPound PricingModel = "per_lb"
	// PricingBagSmall is the flat-fee small bag, members only.
	PricingBagSmall PricingModel = "bag_small"
	// PricingBagMedium is the flat-fee medium bag, members only.
	PricingBagMedium PricingModel = "bag_medium"
	// PricingBagLarge is the flat-fee large bag, members only.
	PricingBagLarge PricingModel = "bag_large"
)

// IsBag reports whether the model is one of the flat-fee bag sizes.
func (m PricingModel) IsBag() bool {
	switch m {
	case PricingBagSmall, PricingBagMedium, PricingBagLarge:
		return true
	}
	return false
}

// BagSize returns the bag size for a bag pricing model, or empty for per-pound.
func (m PricingModel) BagSize() BagSize {
	switch m {
	case PricingBagSmall:
		return BagSmall
	case PricingBagMedium:
		return BagMedium
	case PricingBagLarge:
		return BagLarge
	}
	return ""
}

// Valid reports whether the pricing model is one of the supported values.
func (m PricingModel) Valid() bool {
	return m == PricingPerPound || m.IsBag()
}

// BagSize enumerates the flat-fee bag containers.
type BagSize string

const (
	// BagSmall holds up to 20 lb.
	BagSmall BagSize = "small"
	// BagMedium holds up to 35 lb.
	BagMedium BagSize = "medium"
	// BagLarge holds up to 50 lb.
	BagLarge BagSize = "large"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	// OrderStatusDraft is an order created but not yet paid for.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusScheduled is a paid order awaiting pickup.
	OrderStatusScheduled OrderStatus = "scheduled"
	// OrderStatusEnRoutePickup means a driver is heading to the pickup address.
	OrderStatusEnRoutePickup OrderStatus = "en_route_pickup"
	// OrderStatusPickedUp means the driver has collected the items.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusProcessing means the laundromat has received the items.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReadyForDelivery means cleaning finished and items await a driver.
	OrderStatusReadyForDelivery OrderStatus = "ready_for_delivery"
	// OrderStatusEnRouteDelivery means a driver is returning the items.
	OrderStatusEnRouteDelivery OrderStatus = "en_route_delivery"
	// OrderStatusDelivered means the items are back with the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted means payment is finalized and the order is closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceledByCustomer records a customer-initiated cancellation.
	OrderStatusCanceledByCustomer OrderStatus = "canceled_by_customer"
	// OrderStatusCanceledByOps records an operations-initiated cancellation.
	OrderStatusCanceledByOps OrderStatus = "canceled_by_ops"
	// OrderStatusNoShow records a missed pickup.
	OrderStatusNoShow OrderStatus = "no_show"
	// OrderStatusIssueFlagged records damage or another problem found during processing.
	OrderStatusIssueFlagged OrderStatus = "issue_flagged"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceledByCustomer, OrderStatusCanceledByOps, OrderStatusNoShow:
		return true
	}
	return false
}

// PaymentStatus tracks the processor-side state of an order's payment.
type PaymentStatus string

const (
	// PaymentStatusRequiresPayment means no authorization exists yet.
	PaymentStatusRequiresPayment PaymentStatus = "requires_payment"
	// PaymentStatusAuthorized means a hold is placed but not captured.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusPaid means funds are captured.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusPartiallyRefunded means part of the captured amount was returned.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	// PaymentStatusRefunded means the full captured amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed means the authorization or capture failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCanceled means the authorization was released without capture.
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// Refundable reports whether captured funds exist that can still be returned.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusPaid || s == PaymentStatusPartiallyRefunded
}

// OrderPayment groups the processor references stored on an order.
type OrderPayment struct {
	Status          PaymentStatus
	IntentID        string
	ChargeID        string
	OverweightRef   string
	AuthorizedCents int64
	CapturedCents   int64
}

// OrderTotals groups the cents-denominated pricing outputs stored on an order.
type OrderTotals struct {
	Currency           string
	RatePerPoundCents  int64
	SubtotalCents      int64
	AddOnTotalCents    int64
	RushFeeCents       int64
	OverweightFeeCents int64
	DiscountCents      int64
	TotalCents         int64
	RefundedCents      int64
	MinimumApplied     bool
	MemberPricing      bool
}

// WeightAdjustmentState enumerates the single weight-adjustment sub-state of a bag order.
type WeightAdjustmentState string

const (
	// WeightNotMeasured means the bag has not been weighed yet.
	WeightNotMeasured WeightAdjustmentState = "not_measured"
	// WeightMeasured means the bag was weighed within its limit.
	WeightMeasured WeightAdjustmentState = "measured"
	// WeightOverweight means the bag exceeded its limit and a fee was charged.
	WeightOverweight WeightAdjustmentState = "overweight"
)

// WeightAdjustment records the outcome of weighing a bag order exactly once.
type WeightAdjustment struct {
	State      WeightAdjustmentState
	MeasuredLb *float64
	FeeCents   int64
	PaymentRef string
	AdjustedBy string
	AdjustedAt *time.Time
}

// Adjusted reports whether the bag has already been weighed.
func (w WeightAdjustment) Adjusted() bool {
	return w.State == WeightMeasured || w.State == WeightOverweight
}

// Address is a pickup or delivery location stored denormalized on the order.
type Address struct {
	Line1        string
	Line2        string
	City         string
	State        string
	PostalCode   string
	Instructions string
}

// TimeWindow is a pickup or delivery slot.
type TimeWindow struct {
	ID        string
	Label     string
	StartHour int
	EndHour   int
}

// OrderAddOn is an optional extra attached to an order.
type OrderAddOn struct {
	Code       string
	Name       string
	PriceCents int64
	Quantity   int
}

// Order is the central entity of the service.
type Order struct {
	ID                string
	CustomerID        string
	LaundromatID      string
	DriverID          string
	PricingModel      PricingModel
	Status            OrderStatus
	Payment           OrderPayment
	Totals            OrderTotals
	EstimatedWeightLb float64
	WeightAdjustment  WeightAdjustment
	AddOns            []OrderAddOn
	PickupAddress     Address
	DeliveryAddress   Address
	PickupDate        time.Time
	PickupWindow      TimeWindow
	DeliveryWindow    TimeWindow
	Notes             string
	PickupPhotoPath   string
	DeliveryPhotoPath string
	CanceledAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MeasuredWeightLb returns the recorded weight, or nil before weighing.
func (o Order) MeasuredWeightLb() *float64 {
	return o.WeightAdjustment.MeasuredLb
}

// Refund is one append-only ledger row recording money returned to a customer.
type Refund struct {
	ID           string
	OrderID      string
	AmountCents  int64
	Reason       string
	ProcessorRef string
	CreatedBy    string
	CreatedAt    time.Time
}

// StatusChange is one append-only audit row per order status transition.
type StatusChange struct {
	ID             string
	OrderID        string
	FromStatus     OrderStatus
	ToStatus       OrderStatus
	Trigger        string
	ActorID        string
	SkipValidation bool
	Note           string
	CreatedAt      time.Time
}

// OrderMessage is a staff note on an order thread, visible to the customer.
type OrderMessage struct {
	ID        string
	OrderID   string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// Customer is a person who places orders, keyed by auth identity.
type Customer struct {
	ID              string
	AuthUID         string
	Email           string
	Phone           string
	DisplayName     string
	PreferredLocale string
	StripeCustomer  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MembershipStatus enumerates subscription states mirrored from the processor.
type MembershipStatus string

const (
	// MembershipActive grants member pricing and bag orders.
	MembershipActive MembershipStatus = "active"
	// MembershipTrialing grants member benefits during a trial period.
	MembershipTrialing MembershipStatus = "trialing"
	// MembershipPastDue means the last recurring payment failed.
	MembershipPastDue MembershipStatus = "past_due"
	// MembershipCanceled means the subscription ended.
	MembershipCanceled MembershipStatus = "canceled"
)

// Membership records a customer's subscription window.
type Membership struct {
	ID             string
	CustomerID     string
	Status         MembershipStatus
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	CanceledAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActiveAt reports whether the membership grants benefits at the given instant.
func (m Membership) ActiveAt(at time.Time) bool {
	if m.Status != MembershipActive && m.Status != MembershipTrialing {
		return false
	}
	if !m.PeriodEnd.IsZero() && at.After(m.PeriodEnd) {
		return false
	}
	return true
}

// Laundromat is a partner facility that processes orders.
type Laundromat struct {
	ID               string
	Name             string
	Phone            string
	Address          Address
	ServedZipCodes   []string
	ActiveOrderCount int64
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NotificationChannel enumerates supported delivery channels.
type NotificationChannel string

const (
	// ChannelEmail sends a templated transactional email.
	ChannelEmail NotificationChannel = "email"
	// ChannelSMS sends a templated SMS with opt-out compliance text appended.
	ChannelSMS NotificationChannel = "sms"
)

// NotificationStatus records the outcome of a send attempt.
type NotificationStatus string

const (
	// NotificationSent marks a successful send.
	NotificationSent NotificationStatus = "sent"
	// NotificationDelivered marks a send the relay confirmed via its receipt callback.
	NotificationDelivered NotificationStatus = "delivered"
	// NotificationFailed marks a failed send; the triggering operation is never blocked.
	NotificationFailed NotificationStatus = "failed"
)

// Notification records one send attempt against a channel.
type Notification struct {
	ID          string
	OrderID     string
	CustomerID  string
	Channel     NotificationChannel
	Template    string
	Recipient   string
	Status      NotificationStatus
	Error       string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// AuditLog is a best-effort structured audit entry.
type AuditLog struct {
	ID        string
	Actor     string
	Action    string
	Entity    string
	EntityID  string
	Reason    string
	IPHash    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// OrderEventType enumerates the events published when order state changes.
type OrderEventType string

const (
	// OrderEventCreated fires after an order is persisted and authorized.
	OrderEventCreated OrderEventType = "order.created"
	// OrderEventStatusChanged fires after every status transition.
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	// OrderEventRefunded fires after a refund ledger row is appended.
	OrderEventRefunded OrderEventType = "order.refunded"
)

// OrderEvent is the envelope published to the event topic.
type OrderEvent struct {
	Type       OrderEventType
	OrderID    string
	CustomerID string
	Status     OrderStatus
	OccurredAt time.Time
	Payload    map[string]any
}
