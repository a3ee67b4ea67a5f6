package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/platform/httpx"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type recordWeightRequest struct {
	ActualWeightLb float64             `json:"actual_weight_lb"`
	AddOns         []orderAddOnPayload `json:"add_ons"`
	RushFeeCents   int64               `json:"rush_fee_cents"`
}

type staffStatusRequest struct {
	To             string   `json:"to"`
	ActualWeightLb *float64 `json:"actual_weight_lb"`
	Note           string   `json:"note"`
}

type staffMessageRequest struct {
	Body string `json:"body"`
}

type orderMessageResponse struct {
	Message orderMessagePayload `json:"message"`
}

// LaundromatHandlers exposes the partner facility endpoints: weighing,
// processing milestones, and the customer-visible message thread.
type LaundromatHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	billing services.BillingService
}

// NewLaundromatHandlers constructs a new LaundromatHandlers instance.
func NewLaundromatHandlers(authn *auth.Authenticator, orders services.OrderService, billing services.BillingService) *LaundromatHandlers {
	return &LaundromatHandlers{
		authn:   authn,
		orders:  orders,
		billing: billing,
	}
}

// Routes registers the /laundromat endpoints.
func (h *LaundromatHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleLaundromatStaff))
	}
	r.Route("/orders/{orderID}", func(order chi.Router) {
		order.Post("/weight", h.recordWeight)
		order.Post("/status", h.updateStatus)
		order.Post("/message", h.postMessage)
	})
}

// recordWeight routes the measured weight by pricing model: bag orders get a
// one-time overweight adjustment, per-pound orders get their final capture.
func (h *LaundromatHandlers) recordWeight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.billing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("billing_service_unavailable", "billing service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, _, ok := requestActor(w, r)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req recordWeightRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	var updated services.Order
	if order.PricingModel.IsBag() {
		updated, err = h.billing.AdjustWeight(ctx, services.AdjustWeightCommand{
			OrderID:        orderID,
			ActualWeightLb: req.ActualWeightLb,
			Actor:          actor,
		})
	} else {
		cmd := services.CaptureFinalPaymentCommand{
			OrderID:        orderID,
			ActualWeightLb: req.ActualWeightLb,
			RushFeeCents:   req.RushFeeCents,
			Actor:          actor,
		}
		for _, addOn := range req.AddOns {
			cmd.AddOns = append(cmd.AddOns, domain.OrderAddOn{
				Code:       strings.TrimSpace(addOn.Code),
				Name:       strings.TrimSpace(addOn.Name),
				PriceCents: addOn.PriceCents,
				Quantity:   addOn.Quantity,
			})
		}
		updated, err = h.billing.CaptureFinalPayment(ctx, cmd)
	}
	if err != nil {
		writeBillingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *LaundromatHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, _, ok := requestActor(w, r)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req staffStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	to := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.To)))
	if !services.KnownOrderStatus(to) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be a valid order status", http.StatusBadRequest))
		return
	}

	result, err := h.orders.TransitionStatus(ctx, services.TransitionStatusCommand{
		OrderID:        orderID,
		To:             to,
		Actor:          actor,
		ActualWeightLb: req.ActualWeightLb,
		Note:           strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeTransitionError(ctx, w, err, result.ValidTargets)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *LaundromatHandlers) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, _, ok := requestActor(w, r)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	var req staffMessageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	message, err := h.orders.AddMessage(ctx, services.AddMessageCommand{
		OrderID: orderID,
		Actor:   actor,
		Body:    req.Body,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderMessageResponse{Message: buildOrderMessagePayload(message)})
}
