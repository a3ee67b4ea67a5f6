package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type stubBillingService struct {
	adjustFn  func(context.Context, services.AdjustWeightCommand) (services.Order, error)
	captureFn func(context.Context, services.CaptureFinalPaymentCommand) (services.Order, error)
	refundFn  func(context.Context, services.RefundCommand) (services.RefundResult, error)
	listFn    func(context.Context, string) ([]services.Refund, error)
}

func (s *stubBillingService) AdjustWeight(ctx context.Context, cmd services.AdjustWeightCommand) (services.Order, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubBillingService) CaptureFinalPayment(ctx context.Context, cmd services.CaptureFinalPaymentCommand) (services.Order, error) {
	if s.captureFn != nil {
		return s.captureFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubBillingService) Refund(ctx context.Context, cmd services.RefundCommand) (services.RefundResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.RefundResult{}, errors.New("not implemented")
}

func (s *stubBillingService) ListRefunds(ctx context.Context, orderID string) ([]services.Refund, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

func serveLaundromatRequest(t *testing.T, handler *LaundromatHandlers, req *http.Request, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route("/laundromat", handler.Routes)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func staffIdentity() *auth.Identity {
	return &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleLaundromatStaff}}
}

func TestLaundromatHandlersWeightBagOrderAdjusts(t *testing.T) {
	bagOrder := sampleOrder("ord_bag")
	bagOrder.PricingModel = domain.PricingBagMedium

	var captured services.AdjustWeightCommand
	orders := &stubOrderService{
		getFn: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			return bagOrder, nil
		},
	}
	billing := &stubBillingService{
		adjustFn: func(ctx context.Context, cmd services.AdjustWeightCommand) (services.Order, error) {
			captured = cmd
			adjusted := bagOrder
			measured := cmd.ActualWeightLb
			now := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
			adjusted.WeightAdjustment = domain.WeightAdjustment{
				State:      domain.WeightOverweight,
				MeasuredLb: &measured,
				FeeCents:   600,
				AdjustedBy: cmd.Actor.ID,
				AdjustedAt: &now,
			}
			return adjusted, nil
		},
	}
	handler := NewLaundromatHandlers(nil, orders, billing)

	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_bag/weight", bytes.NewBufferString(`{"actual_weight_lb": 38}`))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_bag" || captured.ActualWeightLb != 38 {
		t.Fatalf("unexpected adjust command %#v", captured)
	}
	if captured.Actor.ID != "staff-1" {
		t.Fatalf("expected staff actor, got %s", captured.Actor.ID)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.WeightAdjustment == nil || resp.Order.WeightAdjustment.State != string(domain.WeightOverweight) {
		t.Fatalf("expected overweight adjustment in response, got %#v", resp.Order.WeightAdjustment)
	}
}

func TestLaundromatHandlersWeightPerPoundCaptures(t *testing.T) {
	var captured services.CaptureFinalPaymentCommand
	orders := &stubOrderService{
		getFn: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			return sampleOrder(cmd.OrderID), nil
		},
	}
	billing := &stubBillingService{
		captureFn: func(ctx context.Context, cmd services.CaptureFinalPaymentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID)
			order.Payment.Status = domain.PaymentStatusPaid
			return order, nil
		},
	}
	handler := NewLaundromatHandlers(nil, orders, billing)

	body := `{"actual_weight_lb": 27, "add_ons": [{"code": "hang_dry", "price_cents": 500, "quantity": 2}], "rush_fee_cents": 1000}`
	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_123/weight", bytes.NewBufferString(body))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActualWeightLb != 27 {
		t.Fatalf("expected weight 27, got %f", captured.ActualWeightLb)
	}
	if len(captured.AddOns) != 1 || captured.AddOns[0].Quantity != 2 {
		t.Fatalf("expected add-ons forwarded, got %#v", captured.AddOns)
	}
	if captured.RushFeeCents != 1000 {
		t.Fatalf("expected rush fee forwarded, got %d", captured.RushFeeCents)
	}
}

func TestLaundromatHandlersWeightBillingConflict(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
			order := sampleOrder(cmd.OrderID)
			order.PricingModel = domain.PricingBagSmall
			return order, nil
		},
	}
	billing := &stubBillingService{
		adjustFn: func(ctx context.Context, cmd services.AdjustWeightCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: weight already recorded", services.ErrBillingConflict)
		},
	}
	handler := NewLaundromatHandlers(nil, orders, billing)

	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_bag/weight", bytes.NewBufferString(`{"actual_weight_lb": 21}`))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestLaundromatHandlersStatusTransition(t *testing.T) {
	var captured services.TransitionStatusCommand
	orders := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.TransitionStatusCommand) (services.TransitionStatusResult, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID)
			order.Status = cmd.To
			return services.TransitionStatusResult{Order: order}, nil
		},
	}
	handler := NewLaundromatHandlers(nil, orders, &stubBillingService{})

	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_123/status", bytes.NewBufferString(`{"to": "ready_for_delivery", "note": "folded"}`))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.To != domain.OrderStatusReadyForDelivery {
		t.Fatalf("expected ready_for_delivery, got %s", captured.To)
	}
	if captured.Note != "folded" {
		t.Fatalf("expected note forwarded, got %q", captured.Note)
	}
	if captured.SkipValidation {
		t.Fatal("staff transitions must never skip validation")
	}
}

func TestLaundromatHandlersStatusUnknown(t *testing.T) {
	handler := NewLaundromatHandlers(nil, &stubOrderService{}, &stubBillingService{})

	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_123/status", bytes.NewBufferString(`{"to": "sideways"}`))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestLaundromatHandlersPostMessage(t *testing.T) {
	var captured services.AddMessageCommand
	orders := &stubOrderService{
		messageFn: func(ctx context.Context, cmd services.AddMessageCommand) (services.OrderMessage, error) {
			captured = cmd
			return services.OrderMessage{
				ID:        "msg_1",
				OrderID:   cmd.OrderID,
				AuthorID:  cmd.Actor.ID,
				Body:      "ready at 5pm",
				CreatedAt: time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewLaundromatHandlers(nil, orders, &stubBillingService{})

	req := httptest.NewRequest(http.MethodPost, "/laundromat/orders/ord_123/message", bytes.NewBufferString(`{"body": "ready at 5pm"}`))
	rr := serveLaundromatRequest(t, handler, req, staffIdentity())

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Body != "ready at 5pm" {
		t.Fatalf("unexpected message command %#v", captured)
	}

	var resp orderMessageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Message.ID != "msg_1" || resp.Message.AuthorID != "staff-1" {
		t.Fatalf("unexpected message payload %#v", resp.Message)
	}
}
