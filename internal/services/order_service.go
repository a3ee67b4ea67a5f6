package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/payments"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	statusChangeIDPrefix = "sc_"
	messageIDPrefix      = "msg_"

	// Customer self-cancellation policy.
	cancelCutoff        = 6 * time.Hour
	lateCancelFeeCents  = 1000
	inProgressRefundPct = 50

	rushFeeCents = 1000

	templateOrderConfirmation = "order_confirmation"
	templateOrderCanceled     = "order_canceled"
	templateStaffMessage      = "staff_message"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not perform the operation, such
	// as a non-member requesting bag pricing.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates a status change not present in the transition table.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent transition won the conditional write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentFailed indicates the payment processor rejected the primary money-moving call.
	ErrOrderPaymentFailed = errors.New("order: payment failed")
)

// pickupWindows maps the human labels accepted at checkout to concrete slots.
var pickupWindows = map[string]domain.TimeWindow{
	"morning":   {ID: "tw_morning", Label: "morning", StartHour: 8, EndHour: 11},
	"afternoon": {ID: "tw_afternoon", Label: "afternoon", StartHour: 12, EndHour: 15},
	"evening":   {ID: "tw_evening", Label: "evening", StartHour: 16, EndHour: 19},
}

var messagePolicy = bluemonday.StrictPolicy()

// orderPaymentGateway abstracts payments.Manager for easier testing.
type orderPaymentGateway interface {
	Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizeRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	CancelAuthorization(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	StatusHistory repositories.StatusHistoryRepository
	Messages      repositories.MessageRepository
	Refunds       repositories.RefundRepository
	Customers     CustomerService
	Memberships   MembershipService
	Routing       RoutingService
	Notifications NotificationService
	Audit         AuditLogService
	Payments      orderPaymentGateway
	Events        EventPublisher
	Currency      string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	statusHistory repositories.StatusHistoryRepository
	messages      repositories.MessageRepository
	refunds       repositories.RefundRepository
	customers     CustomerService
	memberships   MembershipService
	routing       RoutingService
	notifications NotificationService
	audit         AuditLogService
	payments      orderPaymentGateway
	events        EventPublisher
	currency      string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer service is required")
	}
	if deps.Memberships == nil {
		return nil, errors.New("order service: membership service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.StatusHistory == nil {
		return nil, errors.New("order service: status history repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("order service: refund repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
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

	return &orderService{
		orders:        deps.Orders,
		statusHistory: deps.StatusHistory,
		messages:      deps.Messages,
		refunds:       deps.Refunds,
		customers:     deps.Customers,
		memberships:   deps.Memberships,
		routing:       deps.Routing,
		notifications: deps.Notifications,
		audit:         deps.Audit,
		payments:      deps.Payments,
		events:        deps.Events,
		currency:      currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return CreateOrderResult{}, err
	}

	customer, err := s.customers.EnsureCustomer(ctx, EnsureCustomerCommand{
		AuthUID: cmd.AuthUID,
		Email:   cmd.Email,
		Phone:   cmd.Phone,
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	_, member, err := s.memberships.ActiveMembership(ctx, customer.ID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if cmd.PricingModel.IsBag() && !member {
		return CreateOrderResult{}, fmt.Errorf("%w: bag pricing requires an active membership", ErrOrderForbidden)
	}

	pickupWindow, err := resolveTimeWindow(cmd.PickupWindow)
	if err != nil {
		return CreateOrderResult{}, err
	}
	deliveryWindow := pickupWindow
	if strings.TrimSpace(cmd.DeliveryWindow) != "" {
		if deliveryWindow, err = resolveTimeWindow(cmd.DeliveryWindow); err != nil {
			return CreateOrderResult{}, err
		}
	}

	now := s.now()
	totals, err := s.priceNewOrder(cmd, member)
	if err != nil {
		return CreateOrderResult{}, err
	}
	totals.Currency = s.currency

	deliveryAddress := cmd.PickupAddress
	if cmd.DeliveryAddress != nil {
		deliveryAddress = *cmd.DeliveryAddress
	}

	order := Order{
		ID:                orderIDPrefix + s.newID(),
		CustomerID:        customer.ID,
		PricingModel:      cmd.PricingModel,
		Status:            domain.OrderStatusDraft,
		Payment:           domain.OrderPayment{Status: domain.PaymentStatusRequiresPayment},
		Totals:            totals,
		EstimatedWeightLb: cmd.EstimatedWeightLb,
		WeightAdjustment:  domain.WeightAdjustment{State: domain.WeightNotMeasured},
		AddOns:            cloneAddOns(cmd.AddOns),
		PickupAddress:     cmd.PickupAddress,
		DeliveryAddress:   deliveryAddress,
		PickupDate:        cmd.PickupDate.UTC(),
		PickupWindow:      pickupWindow,
		DeliveryWindow:    deliveryWindow,
		Notes:             strings.TrimSpace(cmd.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}

	// Facility assignment is best effort; an unrouted order is picked up by ops.
	if s.routing != nil {
		if facility, err := s.routing.AssignNearest(ctx, order.ID, order.PickupAddress.PostalCode); err != nil {
			s.logger(ctx, "order.routing.failed", map[string]any{
				"orderId": order.ID,
				"zip":     order.PickupAddress.PostalCode,
				"error":   err.Error(),
			})
		} else {
			order.LaundromatID = facility.ID
		}
	}

	captureMethod := payments.CaptureManual
	if order.PricingModel.IsBag() {
		captureMethod = payments.CaptureAutomatic
	}

	details, err := s.payments.Authorize(ctx, payments.PaymentContext{Currency: s.currency}, payments.AuthorizeRequest{
		AmountCents:   order.Totals.TotalCents,
		Currency:      s.currency,
		CustomerID:    customer.StripeCustomer,
		CaptureMethod: captureMethod,
		Description:   fmt.Sprintf("laundry order %s", order.ID),
		Metadata: map[string]string{
			"orderId":      order.ID,
			"pricingModel": string(order.PricingModel),
		},
		IdempotencyKey: createOrderIdempotencyKey(customer.ID, cmd.PickupDate, order.PricingModel, now),
	})
	if err != nil {
		// The order exists but carries no hold; mark it so it is not orphaned silently.
		order.Payment.Status = domain.PaymentStatusFailed
		order.UpdatedAt = s.now()
		if updateErr := s.orders.Update(ctx, order); updateErr != nil {
			s.logger(ctx, "order.payment_failed.persist_failed", map[string]any{
				"orderId": order.ID,
				"error":   updateErr.Error(),
			})
		}
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	order.Payment.IntentID = details.IntentID
	order.Payment.ChargeID = details.ChargeID
	order.Payment.AuthorizedCents = details.AmountCents
	if details.Status == payments.StatusSucceeded {
		order.Payment.Status = domain.PaymentStatusPaid
		order.Payment.CapturedCents = details.AmountCapturedCents
	} else {
		order.Payment.Status = domain.PaymentStatusAuthorized
	}

	changedAt := s.now()
	updated, err := s.orders.UpdateStatusIf(ctx, order.ID, domain.OrderStatusDraft, repositories.OrderStatusUpdate{
		Status:    domain.OrderStatusScheduled,
		Payment:   &order.Payment,
		UpdatedAt: changedAt,
	})
	if err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}
	updated.LaundromatID = order.LaundromatID

	s.appendHistory(ctx, domain.StatusChange{
		OrderID:    updated.ID,
		FromStatus: domain.OrderStatusDraft,
		ToStatus:   domain.OrderStatusScheduled,
		Trigger:    "payment_confirmed",
		ActorID:    customer.ID,
		CreatedAt:  changedAt,
	})

	s.publishEvent(ctx, OrderEvent{
		Type:       domain.OrderEventCreated,
		OrderID:    updated.ID,
		CustomerID: updated.CustomerID,
		Status:     updated.Status,
		OccurredAt: changedAt,
		Payload: map[string]any{
			"pricingModel": string(updated.PricingModel),
			"totalCents":   updated.Totals.TotalCents,
		},
	})

	s.notify(ctx, OrderNotificationCommand{
		Order:    updated,
		Customer: customer,
		Template: templateOrderConfirmation,
		Channels: []NotificationChannel{domain.ChannelEmail, domain.ChannelSMS},
		Data: map[string]any{
			"pickupDate":   updated.PickupDate.Format("2006-01-02"),
			"pickupWindow": updated.PickupWindow.Label,
			"totalCents":   updated.Totals.TotalCents,
		},
	})

	return CreateOrderResult{Order: updated, ClientSecret: details.ClientSecret}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := s.authorizeOrderRead(ctx, cmd.Actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID:   filter.CustomerID,
		LaundromatID: filter.LaundromatID,
		DriverID:     filter.DriverID,
		Status:       filter.Status,
		DateRange:    filter.DateRange,
		Pagination:   filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (TransitionStatusResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionStatusResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !KnownOrderStatus(cmd.To) {
		return TransitionStatusResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.To)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TransitionStatusResult{}, s.mapRepositoryError(err)
	}

	var edge OrderTransition
	if cmd.SkipValidation {
		edge = OrderTransition{From: order.Status, To: cmd.To, Trigger: "manual_correction"}
	} else {
		var ok bool
		edge, ok = TransitionFor(order.Status, cmd.To)
		if !ok {
			valid := ValidNextStatuses(order.Status)
			return TransitionStatusResult{ValidTargets: valid},
				fmt.Errorf("%w: %s to %s (valid: %s)", ErrOrderInvalidTransition, order.Status, cmd.To, joinStatuses(valid))
		}
		if edge.RequiresWeight {
			if cmd.ActualWeightLb == nil {
				return TransitionStatusResult{}, fmt.Errorf("%w: actual weight is required for %s", ErrOrderInvalidInput, edge.Trigger)
			}
			if err := validateWeight(*cmd.ActualWeightLb); err != nil {
				return TransitionStatusResult{}, err
			}
		}
	}

	now := s.now()
	update := repositories.OrderStatusUpdate{
		Status:           cmd.To,
		MeasuredWeightLb: cmd.ActualWeightLb,
		UpdatedAt:        now,
	}
	if driver := strings.TrimSpace(cmd.DriverID); driver != "" {
		update.DriverID = &driver
	}
	if photo := strings.TrimSpace(cmd.PhotoPath); photo != "" {
		switch cmd.To {
		case domain.OrderStatusPickedUp:
			update.PickupPhotoPath = &photo
		case domain.OrderStatusDelivered:
			update.DeliveryPhotoPath = &photo
		}
	}

	var updated Order
	if cmd.SkipValidation {
		updated, err = s.orders.ForceStatus(ctx, orderID, update)
	} else {
		updated, err = s.orders.UpdateStatusIf(ctx, orderID, order.Status, update)
	}
	if err != nil {
		return TransitionStatusResult{}, s.mapRepositoryError(err)
	}

	s.appendHistory(ctx, domain.StatusChange{
		OrderID:        orderID,
		FromStatus:     order.Status,
		ToStatus:       cmd.To,
		Trigger:        edge.Trigger,
		ActorID:        cmd.Actor.ID,
		SkipValidation: cmd.SkipValidation,
		Note:           strings.TrimSpace(cmd.Note),
		CreatedAt:      now,
	})

	s.recordAudit(ctx, AuditLogRecord{
		Actor:    cmd.Actor.ID,
		Action:   "order.status." + edge.Trigger,
		Entity:   "order",
		EntityID: orderID,
		Reason:   strings.TrimSpace(cmd.Note),
		IP:       cmd.Actor.IP,
		Metadata: map[string]any{
			"from":           string(order.Status),
			"to":             string(cmd.To),
			"skipValidation": cmd.SkipValidation,
		},
	})

	s.publishEvent(ctx, OrderEvent{
		Type:       domain.OrderEventStatusChanged,
		OrderID:    orderID,
		CustomerID: updated.CustomerID,
		Status:     updated.Status,
		OccurredAt: now,
		Payload: map[string]any{
			"from":    string(order.Status),
			"trigger": edge.Trigger,
		},
	})

	if len(edge.Notify) > 0 {
		s.notifyCustomer(ctx, updated, "order_"+string(cmd.To), edge.Notify, map[string]any{
			"status": string(cmd.To),
		})
	}

	return TransitionStatusResult{Order: updated, ChangedAt: now}, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CancelOrderResult{}, s.mapRepositoryError(err)
	}
	if order.Status.Terminal() {
		return CancelOrderResult{}, fmt.Errorf("%w: order is already %s", ErrOrderInvalidTransition, order.Status)
	}

	target := domain.OrderStatusCanceledByCustomer
	if cmd.ByOps {
		target = domain.OrderStatusCanceledByOps
	} else if !CanTransition(order.Status, target) {
		valid := ValidNextStatuses(order.Status)
		return CancelOrderResult{}, fmt.Errorf("%w: %s to %s (valid: %s)", ErrOrderInvalidTransition, order.Status, target, joinStatuses(valid))
	}

	now := s.now()
	refundCents := cancellationRefundCents(order, now)

	result := CancelOrderResult{RefundCents: refundCents}

	switch order.Payment.Status {
	case domain.PaymentStatusAuthorized:
		// Nothing was captured; releasing the hold moves no money.
		if _, err := s.payments.CancelAuthorization(ctx, payments.PaymentContext{Currency: s.currency}, payments.CancelRequest{
			IntentID:       order.Payment.IntentID,
			Reason:         "requested_by_customer",
			IdempotencyKey: actionIdempotencyKey("cancel", order.Payment.IntentID, 0, cmd.Actor.ID, now),
		}); err != nil {
			return CancelOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
		}
		order.Payment.Status = domain.PaymentStatusCanceled
		result.AuthorizationReleased = true
		result.RefundCents = 0
	case domain.PaymentStatusPaid, domain.PaymentStatusPartiallyRefunded:
		if refundCents > 0 {
			outcome, err := s.executeRefund(ctx, order, refundCents, firstNonEmptyString(cmd.Reason, "cancellation"), cmd.Actor, now)
			if err != nil {
				return CancelOrderResult{}, err
			}
			order.Payment.Status = outcome.PaymentStatus
			order.Totals.RefundedCents = outcome.RefundedCents
		}
	}

	update := repositories.OrderStatusUpdate{
		Status:     target,
		Payment:    &order.Payment,
		Totals:     &order.Totals,
		CanceledAt: &now,
		UpdatedAt:  now,
	}

	var updated Order
	if cmd.ByOps {
		updated, err = s.orders.ForceStatus(ctx, orderID, update)
	} else {
		updated, err = s.orders.UpdateStatusIf(ctx, orderID, order.Status, update)
	}
	if err != nil {
		return CancelOrderResult{}, s.mapRepositoryError(err)
	}
	result.Order = updated

	if s.routing != nil && order.LaundromatID != "" {
		if err := s.routing.Release(ctx, orderID, order.LaundromatID); err != nil {
			s.logger(ctx, "order.routing.release_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	trigger := "customer_cancellation"
	if cmd.ByOps {
		trigger = "ops_cancellation"
	}
	s.appendHistory(ctx, domain.StatusChange{
		OrderID:    orderID,
		FromStatus: order.Status,
		ToStatus:   target,
		Trigger:    trigger,
		ActorID:    cmd.Actor.ID,
		Note:       strings.TrimSpace(cmd.Reason),
		CreatedAt:  now,
	})

	s.recordAudit(ctx, AuditLogRecord{
		Actor:    cmd.Actor.ID,
		Action:   "order." + trigger,
		Entity:   "order",
		EntityID: orderID,
		Reason:   strings.TrimSpace(cmd.Reason),
		IP:       cmd.Actor.IP,
		Metadata: map[string]any{
			"refundCents":           result.RefundCents,
			"authorizationReleased": result.AuthorizationReleased,
		},
	})

	s.publishEvent(ctx, OrderEvent{
		Type:       domain.OrderEventStatusChanged,
		OrderID:    orderID,
		CustomerID: updated.CustomerID,
		Status:     target,
		OccurredAt: now,
		Payload: map[string]any{
			"trigger":     trigger,
			"refundCents": result.RefundCents,
		},
	})

	s.notifyCustomer(ctx, updated, templateOrderCanceled, []NotificationChannel{domain.ChannelEmail}, map[string]any{
		"refundCents": result.RefundCents,
	})

	return result, nil
}

func (s *orderService) AddMessage(ctx context.Context, cmd AddMessageCommand) (OrderMessage, error) {
	if s.messages == nil {
		return OrderMessage{}, errors.New("order service: message repository not configured")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderMessage{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	body := strings.TrimSpace(messagePolicy.Sanitize(cmd.Body))
	if body == "" {
		return OrderMessage{}, fmt.Errorf("%w: message body is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderMessage{}, s.mapRepositoryError(err)
	}

	message := domain.OrderMessage{
		ID:        messageIDPrefix + s.newID(),
		OrderID:   order.ID,
		AuthorID:  cmd.Actor.ID,
		Body:      body,
		CreatedAt: s.now(),
	}
	if err := s.messages.Append(ctx, message); err != nil {
		return OrderMessage{}, s.mapRepositoryError(err)
	}

	s.notifyCustomer(ctx, order, templateStaffMessage, []NotificationChannel{domain.ChannelSMS}, map[string]any{
		"message": body,
	})

	return message, nil
}

func (s *orderService) ListStatusHistory(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[StatusChange], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[StatusChange]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	page, err := s.statusHistory.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[StatusChange]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// executeRefund issues a ledger-capped refund and appends the ledger row. The
// ledger sum is recomputed immediately before the processor call; the
// processor's idempotency key is the final guard against duplicates.
func (s *orderService) executeRefund(ctx context.Context, order Order, amountCents int64, reason string, actor Actor, now time.Time) (repositories.RefundMirror, error) {
	already, err := s.refunds.SumByOrder(ctx, order.ID)
	if err != nil {
		return repositories.RefundMirror{}, s.mapRepositoryError(err)
	}
	remaining := order.Totals.TotalCents - already
	if amountCents > remaining {
		amountCents = remaining
	}
	if amountCents <= 0 {
		return repositories.RefundMirror{PaymentStatus: order.Payment.Status, RefundedCents: already, UpdatedAt: now}, nil
	}

	if _, err := s.payments.Refund(ctx, payments.PaymentContext{Currency: s.currency}, payments.RefundRequest{
		IntentID:       order.Payment.IntentID,
		AmountCents:    &amountCents,
		Reason:         "requested_by_customer",
		IdempotencyKey: actionIdempotencyKey("refund", order.Payment.IntentID, amountCents, actor.ID, now),
		Metadata:       map[string]string{"orderId": order.ID, "reason": reason},
	}); err != nil {
		return repositories.RefundMirror{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	mirror := buildRefundMirror(order.Totals.TotalCents, already, amountCents, now)
	refund := domain.Refund{
		ID:           "ref_" + s.newID(),
		OrderID:      order.ID,
		AmountCents:  amountCents,
		Reason:       reason,
		ProcessorRef: order.Payment.IntentID,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
	}
	if err := s.refunds.Append(ctx, refund, mirror); err != nil {
		// The processor refund already went through; the ledger write is
		// reconciled manually. Never roll the refund back.
		s.logger(ctx, "order.refund.ledger_write_failed", map[string]any{
			"orderId":     order.ID,
			"amountCents": amountCents,
			"error":       err.Error(),
		})
	}
	return mirror, nil
}

func (s *orderService) authorizeOrderRead(ctx context.Context, actor Actor, order Order) error {
	if actorHasAnyRole(actor, "admin", "laundromat_staff", "driver") {
		return nil
	}
	customer, err := s.customers.GetByAuthUID(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
	}
	if customer.ID != order.CustomerID {
		return fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
	}
	return nil
}

func (s *orderService) priceNewOrder(cmd CreateOrderCommand, member bool) (OrderTotals, error) {
	totals := OrderTotals{MemberPricing: member}
	for _, addOn := range cmd.AddOns {
		if addOn.PriceCents < 0 || addOn.Quantity < 0 {
			return OrderTotals{}, fmt.Errorf("%w: add-on price and quantity must be non-negative", ErrOrderInvalidInput)
		}
		totals.AddOnTotalCents += addOn.PriceCents * int64(addOn.Quantity)
	}
	if cmd.Rush {
		totals.RushFeeCents = rushFeeCents
	}

	if cmd.PricingModel.IsBag() {
		price, err := BagPriceCents(cmd.PricingModel.BagSize())
		if err != nil {
			return OrderTotals{}, err
		}
		totals.SubtotalCents = price
	} else {
		quote, err := PerPoundQuote(cmd.EstimatedWeightLb, member)
		if err != nil {
			return OrderTotals{}, err
		}
		totals.RatePerPoundCents = quote.RatePerPoundCents
		totals.SubtotalCents = quote.TotalCents
		totals.MinimumApplied = quote.MinimumApplied
	}

	totals.TotalCents = totals.SubtotalCents + totals.AddOnTotalCents + totals.RushFeeCents
	return totals, nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) appendHistory(ctx context.Context, change domain.StatusChange) {
	if s.statusHistory == nil {
		return
	}
	if change.ID == "" {
		change.ID = statusChangeIDPrefix + s.newID()
	}
	// The status write is the source of truth; the history row is best effort.
	if err := s.statusHistory.Append(ctx, change); err != nil {
		s.logger(ctx, "order.history.append_failed", map[string]any{
			"orderId": change.OrderID,
			"to":      string(change.ToStatus),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Payload != nil {
		event.Payload = maps.Clone(event.Payload)
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":    string(event.Type),
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) notify(ctx context.Context, cmd OrderNotificationCommand) {
	if s.notifications == nil {
		return
	}
	s.notifications.NotifyOrder(ctx, cmd)
}

func (s *orderService) notifyCustomer(ctx context.Context, order Order, template string, channels []NotificationChannel, data map[string]any) {
	if s.notifications == nil {
		return
	}
	customer, err := s.customers.GetByAuthUID(ctx, order.CustomerID)
	if err != nil {
		// Fall back to the customer id lookup used by internal callers.
		customer = Customer{ID: order.CustomerID}
	}
	s.notifications.NotifyOrder(ctx, OrderNotificationCommand{
		Order:    order,
		Customer: customer,
		Template: template,
		Channels: channels,
		Data:     data,
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// cancellationRefundCents applies the self-service cancellation policy.
func cancellationRefundCents(order Order, now time.Time) int64 {
	total := order.Totals.TotalCents
	if total <= 0 {
		return 0
	}

	switch order.Status {
	case domain.OrderStatusPickedUp, domain.OrderStatusProcessing, domain.OrderStatusReadyForDelivery,
		domain.OrderStatusEnRouteDelivery, domain.OrderStatusDelivered, domain.OrderStatusIssueFlagged:
		return total * inProgressRefundPct / 100
	}

	pickupAt := order.PickupDate.Add(time.Duration(order.PickupWindow.StartHour) * time.Hour)
	switch {
	case now.Before(pickupAt.Add(-cancelCutoff)):
		return total
	case now.Before(pickupAt):
		fee := int64(lateCancelFeeCents)
		if fee > total {
			return 0
		}
		return total - fee
	default:
		// Past the scheduled pickup with nothing collected.
		return total * inProgressRefundPct / 100
	}
}

// buildRefundMirror derives the order's convenience fields from ledger totals.
func buildRefundMirror(totalCents, alreadyRefunded, amountCents int64, now time.Time) repositories.RefundMirror {
	refunded := alreadyRefunded + amountCents
	status := domain.PaymentStatusPartiallyRefunded
	if refunded >= totalCents {
		status = domain.PaymentStatusRefunded
	}
	return repositories.RefundMirror{
		PaymentStatus: status,
		RefundedCents: refunded,
		UpdatedAt:     now,
	}
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.AuthUID) == "" {
		return fmt.Errorf("%w: auth uid is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrOrderInvalidInput)
	}
	if cmd.PickupDate.IsZero() {
		return fmt.Errorf("%w: pickup date is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PickupWindow) == "" {
		return fmt.Errorf("%w: pickup time window is required", ErrOrderInvalidInput)
	}
	if !cmd.PricingModel.Valid() {
		return fmt.Errorf("%w: unknown pricing model %q", ErrOrderInvalidInput, cmd.PricingModel)
	}
	if !cmd.PricingModel.IsBag() {
		if err := validateWeight(cmd.EstimatedWeightLb); err != nil {
			return fmt.Errorf("%w: estimated weight: %v", ErrOrderInvalidInput, err)
		}
	}
	addr := cmd.PickupAddress
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: pickup address requires line1, city, and postal code", ErrOrderInvalidInput)
	}
	return nil
}

// resolveTimeWindow accepts either a window id or a human label.
func resolveTimeWindow(value string) (domain.TimeWindow, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, window := range pickupWindows {
		if value == window.ID || value == window.Label {
			return window, nil
		}
	}

	labels := make([]string, 0, len(pickupWindows))
	for label := range pickupWindows {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return domain.TimeWindow{}, fmt.Errorf("%w: unknown time window %q (valid: %s)", ErrOrderInvalidInput, value, strings.Join(labels, ", "))
}

func createOrderIdempotencyKey(customerID string, pickupDate time.Time, model PricingModel, now time.Time) string {
	return shaKey(fmt.Sprintf("%s|%s|%s|%d", customerID, pickupDate.UTC().Format("2006-01-02"), model, now.UnixNano()))
}

func actionIdempotencyKey(action, processorRef string, amountCents int64, actorID string, now time.Time) string {
	return shaKey(fmt.Sprintf("%s|%s|%d|%s|%d", action, processorRef, amountCents, actorID, now.UnixNano()))
}

func shaKey(base string) string {
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func actorHasAnyRole(actor Actor, roles ...string) bool {
	return auth.ContainsAny(actor.Roles, roles...)
}

func joinStatuses(statuses []OrderStatus) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ", ")
}

func cloneAddOns(addOns []OrderAddOn) []OrderAddOn {
	if len(addOns) == 0 {
		return nil
	}
	out := make([]OrderAddOn, len(addOns))
	copy(out, addOns)
	return out
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
