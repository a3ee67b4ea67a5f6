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

type driverTransitionRequest struct {
	ActualWeightLb *float64 `json:"actual_weight_lb"`
	PhotoPath      string   `json:"photo_path"`
	Note           string   `json:"note"`
}

type photoUploadRequest struct {
	Kind        string `json:"kind"`
	ContentType string `json:"content_type"`
}

type photoUploadResponse struct {
	UploadURL  string `json:"upload_url"`
	ObjectPath string `json:"object_path"`
	ExpiresAt  string `json:"expires_at"`
}

// DriverHandlers exposes the pickup and delivery endpoints used by drivers on route.
type DriverHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	photos services.PhotoService
}

// NewDriverHandlers constructs a new DriverHandlers instance.
func NewDriverHandlers(authn *auth.Authenticator, orders services.OrderService, photos services.PhotoService) *DriverHandlers {
	return &DriverHandlers{
		authn:  authn,
		orders: orders,
		photos: photos,
	}
}

// Routes registers the /driver endpoints.
func (h *DriverHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleDriver))
	}
	r.Route("/orders/{orderID}", func(order chi.Router) {
		order.Post("/start-route", h.transitionTo(domain.OrderStatusEnRoutePickup, true))
		order.Post("/pickup", h.transitionTo(domain.OrderStatusPickedUp, true))
		order.Post("/dropoff", h.transitionTo(domain.OrderStatusProcessing, false))
		order.Post("/start-delivery", h.transitionTo(domain.OrderStatusEnRouteDelivery, true))
		order.Post("/deliver", h.transitionTo(domain.OrderStatusDelivered, false))
		order.Post("/photos", h.issuePhotoURL)
	})
}

// transitionTo builds a handler performing one fixed status transition.
// assignDriver records the acting driver on the order for route legs they own.
func (h *DriverHandlers) transitionTo(to domain.OrderStatus, assignDriver bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		var req driverTransitionRequest
		if !decodeOptionalJSONBody(w, r, &req) {
			return
		}

		cmd := services.TransitionStatusCommand{
			OrderID:        orderID,
			To:             to,
			Actor:          actor,
			ActualWeightLb: req.ActualWeightLb,
			PhotoPath:      strings.TrimSpace(req.PhotoPath),
			Note:           strings.TrimSpace(req.Note),
		}
		if assignDriver {
			cmd.DriverID = actor.ID
		}

		result, err := h.orders.TransitionStatus(ctx, cmd)
		if err != nil {
			writeTransitionError(ctx, w, err, result.ValidTargets)
			return
		}

		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order)})
	}
}

func (h *DriverHandlers) issuePhotoURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.photos == nil {
		httpx.WriteError(ctx, w, httpx.NewError("photo_service_unavailable", "photo service unavailable", http.StatusServiceUnavailable))
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

	var req photoUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.photos.IssueUploadURL(ctx, services.PhotoUploadCommand{
		OrderID:     orderID,
		Actor:       actor,
		Kind:        strings.ToLower(strings.TrimSpace(req.Kind)),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writePhotoError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, photoUploadResponse{
		UploadURL:  result.UploadURL,
		ObjectPath: result.ObjectPath,
		ExpiresAt:  formatTime(result.ExpiresAt),
	})
}
