package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/payments"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type fakeOrderRepo struct {
	orders        map[string]domain.Order
	conflictNext  bool
	forceCalls    int
	conditionalOK int
}

func newFakeOrderRepo(orders ...domain.Order) *fakeOrderRepo {
	repo := &fakeOrderRepo{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) Update(_ context.Context, order domain.Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return stubRepoError{msg: "order missing", notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{msg: "order missing", notFound: true}
	}
	return order, nil
}

func (r *fakeOrderRepo) List(_ context.Context, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page := domain.CursorPage[domain.Order]{}
	for _, order := range r.orders {
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *fakeOrderRepo) UpdateStatusIf(_ context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{msg: "order missing", notFound: true}
	}
	if r.conflictNext || order.Status != expected {
		r.conflictNext = false
		return domain.Order{}, stubRepoError{msg: "stale status", conflict: true}
	}
	r.conditionalOK++
	applyStatusUpdate(&order, update)
	r.orders[orderID] = order
	return order, nil
}

func (r *fakeOrderRepo) ForceStatus(_ context.Context, orderID string, update repositories.OrderStatusUpdate) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{msg: "order missing", notFound: true}
	}
	r.forceCalls++
	applyStatusUpdate(&order, update)
	r.orders[orderID] = order
	return order, nil
}

func (r *fakeOrderRepo) ApplyWeightAdjustment(_ context.Context, orderID string, update repositories.WeightAdjustmentUpdate) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{msg: "order missing", notFound: true}
	}
	if order.WeightAdjustment.Adjusted() {
		return domain.Order{}, stubRepoError{msg: "already adjusted", conflict: true}
	}
	order.WeightAdjustment = update.Adjustment
	order.Totals = update.Totals
	order.Payment = update.Payment
	order.UpdatedAt = update.UpdatedAt
	r.orders[orderID] = order
	return order, nil
}

func applyStatusUpdate(order *domain.Order, update repositories.OrderStatusUpdate) {
	order.Status = update.Status
	if update.DriverID != nil {
		order.DriverID = *update.DriverID
	}
	if update.MeasuredWeightLb != nil {
		order.WeightAdjustment.MeasuredLb = update.MeasuredWeightLb
	}
	if update.Payment != nil {
		order.Payment = *update.Payment
	}
	if update.Totals != nil {
		order.Totals = *update.Totals
	}
	if update.PickupPhotoPath != nil {
		order.PickupPhotoPath = *update.PickupPhotoPath
	}
	if update.DeliveryPhotoPath != nil {
		order.DeliveryPhotoPath = *update.DeliveryPhotoPath
	}
	if update.CanceledAt != nil {
		order.CanceledAt = update.CanceledAt
	}
	order.UpdatedAt = update.UpdatedAt
}

type fakeStatusHistory struct {
	entries []domain.StatusChange
}

func (h *fakeStatusHistory) Append(_ context.Context, change domain.StatusChange) error {
	h.entries = append(h.entries, change)
	return nil
}

func (h *fakeStatusHistory) ListByOrder(_ context.Context, orderID string, _ domain.Pagination) (domain.CursorPage[domain.StatusChange], error) {
	page := domain.CursorPage[domain.StatusChange]{}
	for _, entry := range h.entries {
		if entry.OrderID == orderID {
			page.Items = append(page.Items, entry)
		}
	}
	return page, nil
}

type fakeMessageRepo struct {
	messages []domain.OrderMessage
}

func (m *fakeMessageRepo) Append(_ context.Context, message domain.OrderMessage) error {
	m.messages = append(m.messages, message)
	return nil
}

func (m *fakeMessageRepo) ListByOrder(_ context.Context, orderID string, _ domain.Pagination) (domain.CursorPage[domain.OrderMessage], error) {
	page := domain.CursorPage[domain.OrderMessage]{}
	for _, message := range m.messages {
		if message.OrderID == orderID {
			page.Items = append(page.Items, message)
		}
	}
	return page, nil
}

type fakeRefundRepo struct {
	rows      []domain.Refund
	mirrors   []repositories.RefundMirror
	appendErr error
}

func (r *fakeRefundRepo) Append(_ context.Context, refund domain.Refund, mirror repositories.RefundMirror) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.rows = append(r.rows, refund)
	r.mirrors = append(r.mirrors, mirror)
	return nil
}

func (r *fakeRefundRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Refund, error) {
	var out []domain.Refund
	for _, row := range r.rows {
		if row.OrderID == orderID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRefundRepo) SumByOrder(_ context.Context, orderID string) (int64, error) {
	var sum int64
	for _, row := range r.rows {
		if row.OrderID == orderID {
			sum += row.AmountCents
		}
	}
	return sum, nil
}

type fakeCustomerService struct {
	customer Customer
}

func (c *fakeCustomerService) EnsureCustomer(context.Context, EnsureCustomerCommand) (Customer, error) {
	return c.customer, nil
}

func (c *fakeCustomerService) GetByAuthUID(_ context.Context, authUID string) (Customer, error) {
	if authUID != c.customer.AuthUID && authUID != c.customer.ID {
		return Customer{}, fmt.Errorf("customer: not found")
	}
	return c.customer, nil
}

func (c *fakeCustomerService) UpdateProfile(context.Context, UpdateCustomerCommand) (Customer, error) {
	return c.customer, nil
}

type fakeMembershipService struct {
	active bool
}

func (m *fakeMembershipService) ActiveMembership(context.Context, string) (Membership, bool, error) {
	if !m.active {
		return Membership{}, false, nil
	}
	return Membership{Status: domain.MembershipActive}, true, nil
}

func (m *fakeMembershipService) ApplySubscriptionCreated(context.Context, SubscriptionCreatedCommand) (Membership, error) {
	return Membership{}, nil
}

func (m *fakeMembershipService) ApplyInvoicePaid(context.Context, InvoicePaidCommand) (Membership, error) {
	return Membership{}, nil
}

func (m *fakeMembershipService) ApplySubscriptionDeleted(context.Context, SubscriptionDeletedCommand) (Membership, error) {
	return Membership{}, nil
}

type fakeGateway struct {
	authorizeReqs []payments.AuthorizeRequest
	refundReqs    []payments.RefundRequest
	cancelReqs    []payments.CancelRequest
	authorizeErr  error
	refundErr     error
	clientSecret  string
}

func (g *fakeGateway) Authorize(_ context.Context, _ payments.PaymentContext, req payments.AuthorizeRequest) (payments.PaymentDetails, error) {
	g.authorizeReqs = append(g.authorizeReqs, req)
	if g.authorizeErr != nil {
		return payments.PaymentDetails{}, g.authorizeErr
	}
	details := payments.PaymentDetails{
		Provider:     "stripe",
		IntentID:     "pi_test",
		ClientSecret: g.clientSecret,
		Status:       payments.StatusAuthorized,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
	}
	if req.CaptureMethod == payments.CaptureAutomatic {
		details.Status = payments.StatusSucceeded
		details.AmountCapturedCents = req.AmountCents
		details.Captured = true
	}
	return details, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	g.refundReqs = append(g.refundReqs, req)
	if g.refundErr != nil {
		return payments.PaymentDetails{}, g.refundErr
	}
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusRefunded}, nil
}

func (g *fakeGateway) CancelAuthorization(_ context.Context, _ payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error) {
	g.cancelReqs = append(g.cancelReqs, req)
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusCanceled}, nil
}

type fakeAuditService struct {
	records []AuditLogRecord
}

func (a *fakeAuditService) Record(_ context.Context, record AuditLogRecord) {
	a.records = append(a.records, record)
}

func (a *fakeAuditService) List(context.Context, AuditLogFilter) (domain.CursorPage[domain.AuditLog], error) {
	return domain.CursorPage[domain.AuditLog]{}, nil
}

type fakeNotificationService struct {
	sent []OrderNotificationCommand
}

func (n *fakeNotificationService) NotifyOrder(_ context.Context, cmd OrderNotificationCommand) {
	n.sent = append(n.sent, cmd)
}

func (n *fakeNotificationService) ApplyDeliveryReceipt(context.Context, DeliveryReceiptCommand) (Notification, error) {
	return Notification{}, nil
}

type fakeEventPublisher struct {
	events []OrderEvent
}

func (p *fakeEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

type orderServiceFixture struct {
	service       OrderService
	orders        *fakeOrderRepo
	history       *fakeStatusHistory
	messages      *fakeMessageRepo
	refunds       *fakeRefundRepo
	customers     *fakeCustomerService
	memberships   *fakeMembershipService
	gateway       *fakeGateway
	audit         *fakeAuditService
	notifications *fakeNotificationService
	events        *fakeEventPublisher
	now           time.Time
}

func newOrderServiceFixture(t *testing.T, orders ...domain.Order) *orderServiceFixture {
	t.Helper()

	fx := &orderServiceFixture{
		orders:   newFakeOrderRepo(orders...),
		history:  &fakeStatusHistory{},
		messages: &fakeMessageRepo{},
		refunds:  &fakeRefundRepo{},
		customers: &fakeCustomerService{customer: Customer{
			ID:      "cus_local_1",
			AuthUID: "uid-1",
			Email:   "taylor@example.com",
		}},
		memberships:   &fakeMembershipService{},
		gateway:       &fakeGateway{clientSecret: "pi_test_secret"},
		audit:         &fakeAuditService{},
		notifications: &fakeNotificationService{},
		events:        &fakeEventPublisher{},
		now:           time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}

	counter := 0
	service, err := NewOrderService(OrderServiceDeps{
		Orders:        fx.orders,
		StatusHistory: fx.history,
		Messages:      fx.messages,
		Refunds:       fx.refunds,
		Customers:     fx.customers,
		Memberships:   fx.memberships,
		Notifications: fx.notifications,
		Audit:         fx.audit,
		Payments:      fx.gateway,
		Events:        fx.events,
		Currency:      "usd",
		Clock:         func() time.Time { return fx.now },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("fixed%04d", counter)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	fx.service = service
	return fx
}

func (fx *orderServiceFixture) createCommand() CreateOrderCommand {
	return CreateOrderCommand{
		AuthUID:           "uid-1",
		Email:             "taylor@example.com",
		PricingModel:      domain.PricingPerPound,
		EstimatedWeightLb: 15,
		PickupDate:        time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC),
		PickupWindow:      "morning",
		PickupAddress: domain.Address{
			Line1:      "100 Main St",
			City:       "Detroit",
			State:      "MI",
			PostalCode: "48201",
		},
	}
}

func TestCreateOrderAppliesMinimumForLightLoads(t *testing.T) {
	fx := newOrderServiceFixture(t)

	result, err := fx.service.CreateOrder(context.Background(), fx.createCommand())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	order := result.Order
	if order.Totals.TotalCents != 3500 {
		t.Fatalf("expected total 3500, got %d", order.Totals.TotalCents)
	}
	if !order.Totals.MinimumApplied {
		t.Fatalf("expected minimum applied flag")
	}
	if order.Totals.RatePerPoundCents != StandardRateCents {
		t.Fatalf("expected standard rate, got %d", order.Totals.RatePerPoundCents)
	}
	if order.Status != domain.OrderStatusScheduled {
		t.Fatalf("expected scheduled status, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusAuthorized {
		t.Fatalf("expected authorized payment, got %s", order.Payment.Status)
	}
	if result.ClientSecret != "pi_test_secret" {
		t.Fatalf("expected client secret to be returned")
	}

	if len(fx.gateway.authorizeReqs) != 1 {
		t.Fatalf("expected one authorization, got %d", len(fx.gateway.authorizeReqs))
	}
	req := fx.gateway.authorizeReqs[0]
	if req.CaptureMethod != payments.CaptureManual {
		t.Fatalf("per-pound orders must authorize with manual capture")
	}
	if req.IdempotencyKey == "" {
		t.Fatalf("expected an idempotency key on the authorization")
	}

	if len(fx.history.entries) != 1 || fx.history.entries[0].Trigger != "payment_confirmed" {
		t.Fatalf("expected a payment_confirmed history row, got %+v", fx.history.entries)
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Type != domain.OrderEventCreated {
		t.Fatalf("expected an order.created event, got %+v", fx.events.events)
	}
	if len(fx.notifications.sent) != 1 {
		t.Fatalf("expected a confirmation notification")
	}
}

func TestCreateOrderMemberRateAboveMinimum(t *testing.T) {
	fx := newOrderServiceFixture(t)
	fx.memberships.active = true

	cmd := fx.createCommand()
	cmd.EstimatedWeightLb = 30

	result, err := fx.service.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if got := result.Order.Totals.TotalCents; got != 5250 {
		t.Fatalf("expected member total 5250, got %d", got)
	}
	if !result.Order.Totals.MemberPricing {
		t.Fatalf("expected member pricing flag")
	}
	if result.Order.Totals.MinimumApplied {
		t.Fatalf("minimum should not apply at 30 lb")
	}
}

func TestCreateOrderBagRequiresMembership(t *testing.T) {
	fx := newOrderServiceFixture(t)

	cmd := fx.createCommand()
	cmd.PricingModel = domain.PricingBagMedium
	cmd.EstimatedWeightLb = 0

	if _, err := fx.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if len(fx.gateway.authorizeReqs) != 0 {
		t.Fatalf("no authorization should be attempted for a rejected order")
	}
}

func TestCreateOrderBagCapturesImmediately(t *testing.T) {
	fx := newOrderServiceFixture(t)
	fx.memberships.active = true

	cmd := fx.createCommand()
	cmd.PricingModel = domain.PricingBagMedium
	cmd.EstimatedWeightLb = 0

	result, err := fx.service.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if result.Order.Totals.TotalCents != 5500 {
		t.Fatalf("expected medium bag total 5500, got %d", result.Order.Totals.TotalCents)
	}
	if result.Order.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("bag orders capture up front, got %s", result.Order.Payment.Status)
	}
	if fx.gateway.authorizeReqs[0].CaptureMethod != payments.CaptureAutomatic {
		t.Fatalf("bag orders must use automatic capture")
	}
}

func TestCreateOrderRejectsUnknownTimeWindow(t *testing.T) {
	fx := newOrderServiceFixture(t)

	cmd := fx.createCommand()
	cmd.PickupWindow = "midnight"

	_, err := fx.service.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	for _, label := range []string{"morning", "afternoon", "evening"} {
		if !strings.Contains(err.Error(), label) {
			t.Fatalf("error should list valid window %q: %v", label, err)
		}
	}
}

func TestCreateOrderMarksPaymentFailedOnDecline(t *testing.T) {
	fx := newOrderServiceFixture(t)
	fx.gateway.authorizeErr = errors.New("card declined")

	_, err := fx.service.CreateOrder(context.Background(), fx.createCommand())
	if !errors.Is(err, ErrOrderPaymentFailed) {
		t.Fatalf("expected ErrOrderPaymentFailed, got %v", err)
	}

	var stored domain.Order
	for _, order := range fx.orders.orders {
		stored = order
	}
	if stored.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("declined order should persist failed payment status, got %s", stored.Payment.Status)
	}
	if stored.Status != domain.OrderStatusDraft {
		t.Fatalf("declined order should remain draft, got %s", stored.Status)
	}
}

func testOrder(status domain.OrderStatus) domain.Order {
	pickupDate := time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:           "ord_existing",
		CustomerID:   "cus_local_1",
		PricingModel: domain.PricingPerPound,
		Status:       status,
		Payment: domain.OrderPayment{
			Status:          domain.PaymentStatusPaid,
			IntentID:        "pi_existing",
			AuthorizedCents: 6000,
			CapturedCents:   6000,
		},
		Totals: domain.OrderTotals{
			Currency:      "USD",
			SubtotalCents: 6000,
			TotalCents:    6000,
		},
		EstimatedWeightLb: 25,
		WeightAdjustment:  domain.WeightAdjustment{State: domain.WeightNotMeasured},
		PickupDate:        pickupDate,
		PickupWindow:      domain.TimeWindow{ID: "tw_morning", Label: "morning", StartHour: 8, EndHour: 11},
		DeliveryWindow:    domain.TimeWindow{ID: "tw_morning", Label: "morning", StartHour: 8, EndHour: 11},
		CreatedAt:         pickupDate.Add(-48 * time.Hour),
		UpdatedAt:         pickupDate.Add(-48 * time.Hour),
	}
}

func TestTransitionStatusRejectsSkippedStates(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))

	result, err := fx.service.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_existing",
		To:      domain.OrderStatusDelivered,
		Actor:   Actor{ID: "staff-1", Roles: []string{"laundromat_staff"}},
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}

	found := false
	for _, target := range result.ValidTargets {
		if target == domain.OrderStatusReadyForDelivery {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejection should report ready_for_delivery as valid, got %v", result.ValidTargets)
	}

	stored, _ := fx.orders.FindByID(context.Background(), "ord_existing")
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("rejected transition must not change status, got %s", stored.Status)
	}
	if len(fx.history.entries) != 0 {
		t.Fatalf("rejected transition must not append history")
	}
}

func TestTransitionStatusPickupRequiresWeight(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusEnRoutePickup))

	_, err := fx.service.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_existing",
		To:      domain.OrderStatusPickedUp,
		Actor:   Actor{ID: "drv-1", Roles: []string{"driver"}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput without a weight, got %v", err)
	}

	weight := 27.5
	result, err := fx.service.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID:        "ord_existing",
		To:             domain.OrderStatusPickedUp,
		Actor:          Actor{ID: "drv-1", Roles: []string{"driver"}},
		ActualWeightLb: &weight,
		DriverID:       "drv-1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if got := result.Order.WeightAdjustment.MeasuredLb; got == nil || *got != 27.5 {
		t.Fatalf("expected measured weight 27.5, got %v", got)
	}
	if result.Order.WeightAdjustment.State != domain.WeightNotMeasured {
		t.Fatalf("recording pickup weight must not mark the adjustment applied")
	}
	if result.Order.DriverID != "drv-1" {
		t.Fatalf("expected driver id recorded")
	}
}

func TestTransitionStatusConflictSurfaces(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusScheduled))
	fx.orders.conflictNext = true

	_, err := fx.service.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_existing",
		To:      domain.OrderStatusEnRoutePickup,
		Actor:   Actor{ID: "ops-1", Roles: []string{"admin"}},
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionStatusSkipValidationIsForcedAndAudited(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusDelivered))

	result, err := fx.service.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID:        "ord_existing",
		To:             domain.OrderStatusProcessing,
		Actor:          Actor{ID: "admin-1", Roles: []string{"admin"}},
		Note:           "rewash after customer complaint",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if result.Order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected forced status processing, got %s", result.Order.Status)
	}
	if fx.orders.forceCalls != 1 {
		t.Fatalf("skip validation must use the forced write path")
	}

	if len(fx.history.entries) != 1 || !fx.history.entries[0].SkipValidation {
		t.Fatalf("forced transition must be flagged in history, got %+v", fx.history.entries)
	}
	if len(fx.audit.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(fx.audit.records))
	}
	if skipped, _ := fx.audit.records[0].Metadata["skipValidation"].(bool); !skipped {
		t.Fatalf("audit record must carry skipValidation, got %+v", fx.audit.records[0].Metadata)
	}
}

func TestCancelEarlyRefundsFullAmount(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusScheduled))
	// Pickup opens 2026-03-12 08:00 UTC; cancel the day before.
	fx.now = time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC)

	result, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if result.RefundCents != 6000 {
		t.Fatalf("expected full refund 6000, got %d", result.RefundCents)
	}
	if result.Order.Status != domain.OrderStatusCanceledByCustomer {
		t.Fatalf("expected canceled_by_customer, got %s", result.Order.Status)
	}
	if result.Order.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("full refund should mark payment refunded, got %s", result.Order.Payment.Status)
	}
	if len(fx.refunds.rows) != 1 || fx.refunds.rows[0].AmountCents != 6000 {
		t.Fatalf("expected one ledger row of 6000, got %+v", fx.refunds.rows)
	}
	if len(fx.gateway.refundReqs) != 1 || fx.gateway.refundReqs[0].IdempotencyKey == "" {
		t.Fatalf("processor refund must carry an idempotency key")
	}
}

func TestCancelLateDeductsFee(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusScheduled))
	// Three hours before the pickup window opens.
	fx.now = time.Date(2026, time.March, 12, 5, 0, 0, 0, time.UTC)

	result, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if result.RefundCents != 5000 {
		t.Fatalf("expected 6000 minus the 1000 late fee, got %d", result.RefundCents)
	}
	if result.Order.Payment.Status != domain.PaymentStatusPartiallyRefunded {
		t.Fatalf("partial refund should mark payment partially refunded, got %s", result.Order.Payment.Status)
	}
}

func TestCancelAfterPickupRefundsHalf(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusPickedUp))
	fx.now = time.Date(2026, time.March, 12, 14, 0, 0, 0, time.UTC)

	result, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "ops-1", Roles: []string{"admin"}},
		Reason:  "facility flooding",
		ByOps:   true,
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if result.RefundCents != 3000 {
		t.Fatalf("expected half refund 3000, got %d", result.RefundCents)
	}
	if result.Order.Status != domain.OrderStatusCanceledByOps {
		t.Fatalf("expected canceled_by_ops, got %s", result.Order.Status)
	}
	if fx.orders.forceCalls != 1 {
		t.Fatalf("ops cancellation uses the forced write path")
	}
}

func TestCancelUncapturedReleasesAuthorization(t *testing.T) {
	order := testOrder(domain.OrderStatusScheduled)
	order.Payment.Status = domain.PaymentStatusAuthorized
	order.Payment.CapturedCents = 0
	fx := newOrderServiceFixture(t, order)
	fx.now = time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC)

	result, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if !result.AuthorizationReleased {
		t.Fatalf("expected the authorization to be released")
	}
	if result.RefundCents != 0 {
		t.Fatalf("releasing a hold moves no money, got refund %d", result.RefundCents)
	}
	if len(fx.gateway.cancelReqs) != 1 {
		t.Fatalf("expected one cancel call, got %d", len(fx.gateway.cancelReqs))
	}
	if len(fx.gateway.refundReqs) != 0 {
		t.Fatalf("no refund should be issued for an uncaptured payment")
	}
	if result.Order.Payment.Status != domain.PaymentStatusCanceled {
		t.Fatalf("expected canceled payment status, got %s", result.Order.Payment.Status)
	}

	if len(fx.audit.records) == 0 {
		t.Fatalf("expected a cancellation audit record")
	}
	last := fx.audit.records[len(fx.audit.records)-1]
	if released, ok := last.Metadata["authorizationReleased"].(bool); !ok || !released {
		t.Fatalf("expected authorizationReleased in audit metadata, got %v", last.Metadata)
	}
}

func TestCancelRefundCappedByLedger(t *testing.T) {
	order := testOrder(domain.OrderStatusScheduled)
	order.Payment.Status = domain.PaymentStatusPartiallyRefunded
	fx := newOrderServiceFixture(t, order)
	fx.refunds.rows = []domain.Refund{{
		ID: "ref_prior", OrderID: "ord_existing", AmountCents: 4500,
	}}
	fx.now = time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC)

	result, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if len(fx.gateway.refundReqs) != 1 {
		t.Fatalf("expected one processor refund, got %d", len(fx.gateway.refundReqs))
	}
	if got := *fx.gateway.refundReqs[0].AmountCents; got != 1500 {
		t.Fatalf("refund must be capped at the remaining 1500, got %d", got)
	}
	if result.Order.Totals.RefundedCents != 6000 {
		t.Fatalf("mirror should record 6000 refunded, got %d", result.Order.Totals.RefundedCents)
	}
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusCompleted))

	if _, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition for terminal order, got %v", err)
	}
}

func TestAddMessageSanitizesBody(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))

	message, err := fx.service.AddMessage(context.Background(), AddMessageCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "staff-1", Roles: []string{"laundromat_staff"}},
		Body:    `<script>alert("x")</script>wine stain on the white shirt needs a second pass`,
	})
	if err != nil {
		t.Fatalf("AddMessage returned error: %v", err)
	}
	if strings.Contains(message.Body, "<script>") {
		t.Fatalf("markup must be stripped, got %q", message.Body)
	}
	if !strings.Contains(message.Body, "wine stain") {
		t.Fatalf("text content must survive sanitization, got %q", message.Body)
	}
	if len(fx.messages.messages) != 1 {
		t.Fatalf("expected one stored message")
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusScheduled))

	if _, err := fx.service.GetOrder(context.Background(), GetOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-other"},
	}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for another customer, got %v", err)
	}

	if _, err := fx.service.GetOrder(context.Background(), GetOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "uid-1"},
	}); err != nil {
		t.Fatalf("owner read returned error: %v", err)
	}

	if _, err := fx.service.GetOrder(context.Background(), GetOrderCommand{
		OrderID: "ord_existing",
		Actor:   Actor{ID: "admin-1", Roles: []string{"admin"}},
	}); err != nil {
		t.Fatalf("admin read returned error: %v", err)
	}
}
