package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/platform/httpx"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type createOrderRequest struct {
	PricingModel      string              `json:"pricing_model"`
	EstimatedWeightLb float64             `json:"estimated_weight_lb"`
	PickupDate        string              `json:"pickup_date"`
	PickupWindow      string              `json:"pickup_window"`
	DeliveryWindow    string              `json:"delivery_window"`
	PickupAddress     addressPayload      `json:"pickup_address"`
	DeliveryAddress   *addressPayload     `json:"delivery_address"`
	AddOns            []orderAddOnPayload `json:"add_ons"`
	Rush              bool                `json:"rush"`
	Phone             string              `json:"phone"`
	Notes             string              `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type createOrderResponse struct {
	Order        orderPayload `json:"order"`
	ClientSecret string       `json:"client_secret,omitempty"`
}

type cancelOrderResponse struct {
	Order                 orderPayload `json:"order"`
	RefundCents           int64        `json:"refund_cents"`
	AuthorizationReleased bool         `json:"authorization_released"`
}

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	customers services.CustomerService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, customers services.CustomerService) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		orders:    orders,
		customers: customers,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	_, identity, ok := requestActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	pickupDate, err := parseDateParam(req.PickupDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pickup_date must be a YYYY-MM-DD date", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		AuthUID:           strings.TrimSpace(identity.UID),
		Email:             strings.TrimSpace(identity.Email),
		Phone:             strings.TrimSpace(req.Phone),
		PricingModel:      domain.PricingModel(strings.ToLower(strings.TrimSpace(req.PricingModel))),
		EstimatedWeightLb: req.EstimatedWeightLb,
		PickupDate:        pickupDate,
		PickupWindow:      req.PickupWindow,
		DeliveryWindow:    req.DeliveryWindow,
		PickupAddress:     addressFromPayload(req.PickupAddress),
		Rush:              req.Rush,
		Notes:             req.Notes,
	}
	if req.DeliveryAddress != nil {
		addr := addressFromPayload(*req.DeliveryAddress)
		cmd.DeliveryAddress = &addr
	}
	for _, addOn := range req.AddOns {
		cmd.AddOns = append(cmd.AddOns, domain.OrderAddOn{
			Code:       strings.TrimSpace(addOn.Code),
			Name:       strings.TrimSpace(addOn.Name),
			PriceCents: addOn.PriceCents,
			Quantity:   addOn.Quantity,
		})
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Order:        buildOrderPayload(result.Order),
		ClientSecret: result.ClientSecret,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.customers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, _, ok := requestActor(w, r)
	if !ok {
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

	customer, err := h.customers.GetByAuthUID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, services.ErrCustomerNotFound) {
			// No profile yet means no orders either.
			writeJSONResponse(w, http.StatusOK, orderListResponse{Items: []orderSummaryPayload{}})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to resolve customer", http.StatusInternalServerError))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		CustomerID: customer.ID,
		Status:     statusFilters,
		DateRange:  dateRange,
		Pagination: pager,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if !decodeOptionalJSONBody(w, r, &req) {
		return
	}

	// Ownership is checked by the read before any money moves.
	if _, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: orderID, Actor: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  strings.TrimSpace(req.Reason),
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

func addressFromPayload(addr addressPayload) services.Address {
	return services.Address{
		Line1:        strings.TrimSpace(addr.Line1),
		Line2:        strings.TrimSpace(addr.Line2),
		City:         strings.TrimSpace(addr.City),
		State:        strings.TrimSpace(addr.State),
		PostalCode:   strings.TrimSpace(addr.PostalCode),
		Instructions: strings.TrimSpace(addr.Instructions),
	}
}
