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

type adminRefundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

type adminRefundResponse struct {
	Refund         refundPayload `json:"refund"`
	RemainingCents int64         `json:"remaining_cents"`
	FullRefund     bool          `json:"full_refund"`
}

type adminCancelRequest struct {
	Reason string `json:"reason"`
}

type adminStatusRequest struct {
	To             string   `json:"to"`
	Note           string   `json:"note"`
	ActualWeightLb *float64 `json:"actual_weight_lb"`
	SkipValidation bool     `json:"skip_validation"`
}

type refundListResponse struct {
	Items []refundPayload `json:"items"`
}

type statusHistoryResponse struct {
	Items         []statusChangePayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

// AdminHandlers exposes the operations endpoints: refunds, forced
// cancellations, manual status corrections, and order search.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	billing services.BillingService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, billing services.BillingService) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		orders:  orders,
		billing: billing,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Route("/orders", func(orders chi.Router) {
		orders.Get("/", h.searchOrders)
		orders.Route("/{orderID}", func(order chi.Router) {
			order.Get("/history", h.listHistory)
			order.Get("/refunds", h.listRefunds)
			order.Post("/refund", h.refund)
			order.Post("/cancel", h.cancel)
			order.Post("/status", h.forceStatus)
		})
	})
}

func (h *AdminHandlers) searchOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, _, ok := requestActor(w, r); !ok {
		return
	}

	statusFilters, ok := parseStatusFilters(w, r)
	if !ok {
		return
	}
	dateRange, ok := parseDateRange(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		CustomerID:   strings.TrimSpace(query.Get("customer_id")),
		LaundromatID: strings.TrimSpace(query.Get("laundromat_id")),
		DriverID:     strings.TrimSpace(query.Get("driver_id")),
		Status:       statusFilters,
		DateRange:    dateRange,
		Pagination:   pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, _, ok := requestActor(w, r); !ok {
		return
	}
	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListStatusHistory(ctx, orderID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]statusChangePayload, 0, len(page.Items))
	for _, change := range page.Items {
		items = append(items, buildStatusChangePayload(change))
	}
	writeJSONResponse(w, http.StatusOK, statusHistoryResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("billing_service_unavailable", "billing service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, _, ok := requestActor(w, r); !ok {
		return
	}
	orderID, ok := requireOrderID(w, r)
	if !ok {
		return
	}

	refunds, err := h.billing.ListRefunds(ctx, orderID)
	if err != nil {
		writeBillingError(ctx, w, err)
		return
	}

	items := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		items = append(items, buildRefundPayload(refund))
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{Items: items})
}

func (h *AdminHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
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

	var req adminRefundRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.billing.Refund(ctx, services.RefundCommand{
		OrderID:     orderID,
		AmountCents: req.AmountCents,
		Reason:      strings.TrimSpace(req.Reason),
		Actor:       actor,
	})
	if err != nil {
		writeBillingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, adminRefundResponse{
		Refund:         buildRefundPayload(result.Refund),
		RemainingCents: result.RemainingCents,
		FullRefund:     result.FullRefund,
	})
}

func (h *AdminHandlers) cancel(w http.ResponseWriter, r *http.Request) {
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

	var req adminCancelRequest
	if !decodeOptionalJSONBody(w, r, &req) {
		return
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  strings.TrimSpace(req.Reason),
		ByOps:   true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Order:                 buildOrderPayload(result.Order),
		RefundCents:           result.RefundCents,
		AuthorizationReleased: result.AuthorizationReleased,
	})
}

func (h *AdminHandlers) forceStatus(w http.ResponseWriter, r *http.Request) {
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

	var req adminStatusRequest
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
		SkipValidation: req.SkipValidation,
	})
	if err != nil {
		writeTransitionError(ctx, w, err, result.ValidTargets)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order)})
}
