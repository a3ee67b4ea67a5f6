package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/payments"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

// ledgerDriftToleranceCents is the largest processor/ledger disagreement that is
// logged instead of escalated. Rounding on partial refunds never exceeds it.
const ledgerDriftToleranceCents = 100

var (
	// ErrBillingInvalidInput signals the caller provided invalid data.
	ErrBillingInvalidInput = errors.New("billing: invalid input")
	// ErrBillingNotFound indicates the order could not be located.
	ErrBillingNotFound = errors.New("billing: order not found")
	// ErrBillingConflict indicates a concurrent write won, such as a second
	// weight adjustment against the same bag.
	ErrBillingConflict = errors.New("billing: conflict")
	// ErrBillingNotRefundable indicates the payment holds no captured funds.
	ErrBillingNotRefundable = errors.New("billing: payment not refundable")
	// ErrExceedsRefundable indicates the requested amount would push the ledger
	// past the order total. The error message carries the remaining amount.
	ErrExceedsRefundable = errors.New("billing: amount exceeds refundable balance")
	// ErrBillingPaymentFailed indicates the payment processor rejected the call.
	ErrBillingPaymentFailed = errors.New("billing: payment failed")
)

// billingPaymentGateway abstracts payments.Manager for easier testing.
type billingPaymentGateway interface {
	Charge(ctx context.Context, paymentCtx payments.PaymentContext, req payments.ChargeRequest) (payments.PaymentDetails, error)
	UpdateAmount(ctx context.Context, paymentCtx payments.PaymentContext, req payments.UpdateAmountRequest) (payments.PaymentDetails, error)
	Capture(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CaptureRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// BillingServiceDeps bundles collaborators required to construct the billing service.
type BillingServiceDeps struct {
	Orders      repositories.OrderRepository
	Refunds     repositories.RefundRepository
	Audit       AuditLogService
	Payments    billingPaymentGateway
	Events      EventPublisher
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type billingService struct {
	orders   repositories.OrderRepository
	refunds  repositories.RefundRepository
	audit    AuditLogService
	payments billingPaymentGateway
	events   EventPublisher
	currency string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewBillingService wires dependencies into a concrete BillingService implementation.
func NewBillingService(deps BillingServiceDeps) (BillingService, error) {
	if deps.Orders == nil {
		return nil, errors.New("billing service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("billing service: refund repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("billing service: payment gateway is required")
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

	return &billingService{
		orders:   deps.Orders,
		refunds:  deps.Refunds,
		audit:    deps.Audit,
		payments: deps.Payments,
		events:   deps.Events,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *billingService) AdjustWeight(ctx context.Context, cmd AdjustWeightCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrBillingInvalidInput)
	}
	if err := validateWeight(cmd.ActualWeightLb); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrBillingInvalidInput, err)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !order.PricingModel.IsBag() {
		return Order{}, fmt.Errorf("%w: weight adjustment applies to bag orders only", ErrBillingInvalidInput)
	}
	if order.WeightAdjustment.Adjusted() {
		return Order{}, fmt.Errorf("%w: order %s was already weighed", ErrBillingConflict, orderID)
	}

	quote, err := BagQuote(order.PricingModel.BagSize(), &cmd.ActualWeightLb)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrBillingInvalidInput, err)
	}

	now := s.now()
	weight := cmd.ActualWeightLb
	adjustment := domain.WeightAdjustment{
		State:      domain.WeightMeasured,
		MeasuredLb: &weight,
		AdjustedBy: cmd.Actor.ID,
		AdjustedAt: &now,
	}

	payment := order.Payment
	totals := order.Totals

	if quote.Overweight.Overweight {
		fee := quote.Overweight.FeeCents
		details, err := s.payments.Charge(ctx, payments.PaymentContext{Currency: s.currency}, payments.ChargeRequest{
			AmountCents: fee,
			Currency:    s.currency,
			CustomerID:  order.CustomerID,
			Description: fmt.Sprintf("overweight fee for order %s", order.ID),
			Metadata: map[string]string{
				"orderId":  order.ID,
				"kind":     "overweight_fee",
				"overLb":   fmt.Sprintf("%.1f", quote.Overweight.OverageLb),
				"measured": fmt.Sprintf("%.1f", weight),
			},
			IdempotencyKey: overweightIdempotencyKey(order.ID, weight),
		})
		if err != nil {
			return Order{}, fmt.Errorf("%w: overweight fee: %v", ErrBillingPaymentFailed, err)
		}
		adjustment.State = domain.WeightOverweight
		adjustment.FeeCents = fee
		adjustment.PaymentRef = details.IntentID
		payment.OverweightRef = details.IntentID
		totals.OverweightFeeCents = fee
		totals.TotalCents += fee
	}

	updated, err := s.orders.ApplyWeightAdjustment(ctx, orderID, repositories.WeightAdjustmentUpdate{
		Adjustment: adjustment,
		Totals:     totals,
		Payment:    payment,
		UpdatedAt:  now,
	})
	if err != nil {
		// The fee charge, if any, already settled; the write conflict means
		// another staff member recorded the weighing first and the charge is
		// reconciled against the stored payment ref.
		if adjustment.PaymentRef != "" {
			s.logger(ctx, "billing.adjust_weight.charge_orphaned", map[string]any{
				"orderId":    orderID,
				"paymentRef": adjustment.PaymentRef,
				"feeCents":   adjustment.FeeCents,
			})
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:    cmd.Actor.ID,
		Action:   "billing.adjust_weight",
		Entity:   "order",
		EntityID: orderID,
		IP:       cmd.Actor.IP,
		Metadata: map[string]any{
			"measuredLb": weight,
			"overweight": quote.Overweight.Overweight,
			"feeCents":   adjustment.FeeCents,
		},
	})

	return updated, nil
}

func (s *billingService) CaptureFinalPayment(ctx context.Context, cmd CaptureFinalPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrBillingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PricingModel.IsBag() {
		return Order{}, fmt.Errorf("%w: bag orders capture at checkout", ErrBillingInvalidInput)
	}
	if order.Payment.Status != domain.PaymentStatusAuthorized {
		return Order{}, fmt.Errorf("%w: payment is %s, expected an open authorization", ErrBillingInvalidInput, order.Payment.Status)
	}

	weight := cmd.ActualWeightLb
	if weight <= 0 {
		if stored := order.MeasuredWeightLb(); stored != nil {
			weight = *stored
		}
	}
	if err := validateWeight(weight); err != nil {
		return Order{}, fmt.Errorf("%w: actual weight: %v", ErrBillingInvalidInput, err)
	}

	quote, err := PerPoundQuote(weight, order.Totals.MemberPricing)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrBillingInvalidInput, err)
	}

	totals := order.Totals
	totals.RatePerPoundCents = quote.RatePerPoundCents
	totals.SubtotalCents = quote.TotalCents
	totals.MinimumApplied = quote.MinimumApplied
	if len(cmd.AddOns) > 0 {
		totals.AddOnTotalCents = 0
		for _, addOn := range cmd.AddOns {
			if addOn.PriceCents < 0 || addOn.Quantity < 0 {
				return Order{}, fmt.Errorf("%w: add-on price and quantity must be non-negative", ErrBillingInvalidInput)
			}
			totals.AddOnTotalCents += addOn.PriceCents * int64(addOn.Quantity)
		}
	}
	if cmd.RushFeeCents > 0 {
		totals.RushFeeCents = cmd.RushFeeCents
	}
	totals.TotalCents = totals.SubtotalCents + totals.AddOnTotalCents + totals.RushFeeCents + totals.OverweightFeeCents

	now := s.now()
	paymentCtx := payments.PaymentContext{Currency: s.currency}
	authorizedCents := order.Payment.AuthorizedCents

	// A hold can only be captured up to its authorized amount; raise it first
	// when the measured weight priced above the estimate.
	if totals.TotalCents > order.Payment.AuthorizedCents {
		if _, err := s.payments.UpdateAmount(ctx, paymentCtx, payments.UpdateAmountRequest{
			IntentID:       order.Payment.IntentID,
			AmountCents:    totals.TotalCents,
			IdempotencyKey: actionIdempotencyKey("update_amount", order.Payment.IntentID, totals.TotalCents, cmd.Actor.ID, now),
		}); err != nil {
			return Order{}, fmt.Errorf("%w: raise authorization: %v", ErrBillingPaymentFailed, err)
		}
	}

	captureCents := totals.TotalCents
	details, err := s.payments.Capture(ctx, paymentCtx, payments.CaptureRequest{
		IntentID:       order.Payment.IntentID,
		AmountCents:    &captureCents,
		IdempotencyKey: actionIdempotencyKey("capture", order.Payment.IntentID, totals.TotalCents, cmd.Actor.ID, now),
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: capture: %v", ErrBillingPaymentFailed, err)
	}

	if diff := details.AmountCapturedCents - authorizedCents; diff > ledgerDriftToleranceCents || diff < -ledgerDriftToleranceCents {
		s.logger(ctx, "billing.capture.amount_anomaly", map[string]any{
			"orderId":         orderID,
			"authorizedCents": authorizedCents,
			"capturedCents":   details.AmountCapturedCents,
		})
	}

	payment := order.Payment
	payment.Status = domain.PaymentStatusPaid
	payment.ChargeID = details.ChargeID
	payment.CapturedCents = details.AmountCapturedCents
	if payment.AuthorizedCents < totals.TotalCents {
		payment.AuthorizedCents = totals.TotalCents
	}

	if !order.WeightAdjustment.Adjusted() {
		order.WeightAdjustment = domain.WeightAdjustment{
			State:      domain.WeightMeasured,
			MeasuredLb: &weight,
			AdjustedBy: cmd.Actor.ID,
			AdjustedAt: &now,
		}
	}
	order.Status = domain.OrderStatusProcessing
	order.Payment = payment
	order.Totals = totals
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		// Funds already moved; log loudly and surface the persistence failure.
		s.logger(ctx, "billing.capture.persist_failed", map[string]any{
			"orderId":       orderID,
			"capturedCents": details.AmountCapturedCents,
			"error":         err.Error(),
		})
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:    cmd.Actor.ID,
		Action:   "billing.capture_final",
		Entity:   "order",
		EntityID: orderID,
		IP:       cmd.Actor.IP,
		Metadata: map[string]any{
			"weightLb":      weight,
			"totalCents":    totals.TotalCents,
			"capturedCents": details.AmountCapturedCents,
		},
	})

	return order, nil
}

func (s *billingService) Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundResult{}, fmt.Errorf("%w: order id is required", ErrBillingInvalidInput)
	}
	if cmd.AmountCents <= 0 {
		return RefundResult{}, fmt.Errorf("%w: amount must be positive", ErrBillingInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return RefundResult{}, fmt.Errorf("%w: reason is required", ErrBillingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundResult{}, s.mapRepositoryError(err)
	}
	if !order.Payment.Status.Refundable() {
		return RefundResult{}, fmt.Errorf("%w: payment is %s", ErrBillingNotRefundable, order.Payment.Status)
	}

	already, err := s.refunds.SumByOrder(ctx, orderID)
	if err != nil {
		return RefundResult{}, s.mapRepositoryError(err)
	}
	remaining := order.Totals.TotalCents - already
	if cmd.AmountCents > remaining {
		return RefundResult{RemainingCents: remaining},
			fmt.Errorf("%w: requested %d, refundable %d", ErrExceedsRefundable, cmd.AmountCents, remaining)
	}

	now := s.now()
	if _, err := s.payments.Refund(ctx, payments.PaymentContext{Currency: s.currency}, payments.RefundRequest{
		IntentID:       order.Payment.IntentID,
		AmountCents:    &cmd.AmountCents,
		Reason:         "requested_by_customer",
		IdempotencyKey: actionIdempotencyKey("refund", order.Payment.IntentID, cmd.AmountCents, cmd.Actor.ID, now),
		Metadata:       map[string]string{"orderId": orderID, "reason": reason},
	}); err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrBillingPaymentFailed, err)
	}

	mirror := buildRefundMirror(order.Totals.TotalCents, already, cmd.AmountCents, now)
	refund := domain.Refund{
		ID:           "ref_" + s.newID(),
		OrderID:      orderID,
		AmountCents:  cmd.AmountCents,
		Reason:       reason,
		ProcessorRef: order.Payment.IntentID,
		CreatedBy:    cmd.Actor.ID,
		CreatedAt:    now,
	}
	if err := s.refunds.Append(ctx, refund, mirror); err != nil {
		// The processor refund already went through; never roll it back.
		s.logger(ctx, "billing.refund.ledger_write_failed", map[string]any{
			"orderId":     orderID,
			"amountCents": cmd.AmountCents,
			"error":       err.Error(),
		})
		return RefundResult{}, s.mapRepositoryError(err)
	}

	s.checkProcessorDrift(ctx, order, mirror.RefundedCents)

	s.recordAudit(ctx, AuditLogRecord{
		Actor:    cmd.Actor.ID,
		Action:   "billing.refund",
		Entity:   "order",
		EntityID: orderID,
		Reason:   reason,
		IP:       cmd.Actor.IP,
		Metadata: map[string]any{
			"amountCents":    cmd.AmountCents,
			"refundedCents":  mirror.RefundedCents,
			"remainingCents": order.Totals.TotalCents - mirror.RefundedCents,
		},
	})

	if s.events != nil {
		if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
			Type:       domain.OrderEventRefunded,
			OrderID:    orderID,
			CustomerID: order.CustomerID,
			Status:     order.Status,
			OccurredAt: now,
			Payload: map[string]any{
				"amountCents": cmd.AmountCents,
				"reason":      reason,
			},
		}); err != nil {
			s.logger(ctx, "billing.refund.publish_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	return RefundResult{
		Refund:         refund,
		RemainingCents: order.Totals.TotalCents - mirror.RefundedCents,
		FullRefund:     mirror.PaymentStatus == domain.PaymentStatusRefunded,
	}, nil
}

func (s *billingService) ListRefunds(ctx context.Context, orderID string) ([]Refund, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrBillingInvalidInput)
	}
	rows, err := s.refunds.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return rows, nil
}

// checkProcessorDrift compares the ledger against the processor's view of the
// intent and logs any disagreement beyond the tolerance.
func (s *billingService) checkProcessorDrift(ctx context.Context, order Order, ledgerCents int64) {
	details, err := s.payments.LookupPayment(ctx, payments.PaymentContext{Currency: s.currency}, payments.LookupRequest{
		IntentID: order.Payment.IntentID,
	})
	if err != nil {
		s.logger(ctx, "billing.refund.lookup_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	if diff := details.AmountRefundedCents - ledgerCents; diff > ledgerDriftToleranceCents || diff < -ledgerDriftToleranceCents {
		s.logger(ctx, "billing.refund.ledger_drift", map[string]any{
			"orderId":        order.ID,
			"ledgerCents":    ledgerCents,
			"processorCents": details.AmountRefundedCents,
		})
	}
}

func (s *billingService) now() time.Time {
	return s.clock()
}

func (s *billingService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *billingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrBillingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrBillingConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("billing: repository unavailable: %w", err)
		}
	}

	return err
}

// overweightIdempotencyKey is stable for a given order and measured weight so a
// retried adjustment never double-charges the fee.
func overweightIdempotencyKey(orderID string, weightLb float64) string {
	return shaKey(fmt.Sprintf("overweight|%s|%.2f", orderID, weightLb))
}
