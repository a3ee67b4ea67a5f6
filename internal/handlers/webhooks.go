package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/payments"
	"github.com/taketaketaketake/bol-sub000/internal/platform/httpx"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// stripeEventVerifier validates a webhook payload against its signature header.
type stripeEventVerifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

// StripeWebhookHandlers consumes Stripe subscription events and applies them
// to the membership mirror. Unknown event types are acknowledged and dropped.
type StripeWebhookHandlers struct {
	verifier    stripeEventVerifier
	memberships services.MembershipService
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewStripeWebhookHandlers constructs a new StripeWebhookHandlers instance.
func NewStripeWebhookHandlers(verifier stripeEventVerifier, memberships services.MembershipService, logger func(ctx context.Context, event string, fields map[string]any)) *StripeWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeWebhookHandlers{
		verifier:    verifier,
		memberships: memberships,
		logger:      logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *StripeWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *StripeWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.memberships == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	subEvent, handled, err := payments.ParseSubscriptionEvent(event)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to decode webhook event", http.StatusBadRequest))
		return
	}
	if !handled {
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		return
	}

	switch subEvent.Type {
	case payments.EventSubscriptionCreated:
		_, err = h.memberships.ApplySubscriptionCreated(ctx, services.SubscriptionCreatedCommand{
			SubscriptionID:   subEvent.SubscriptionID,
			StripeCustomerID: subEvent.StripeCustomerID,
			Status:           domain.MembershipStatus(strings.ToLower(strings.TrimSpace(subEvent.Status))),
			PeriodStart:      subEvent.PeriodStart,
			PeriodEnd:        subEvent.PeriodEnd,
		})
	case payments.EventInvoicePaid:
		_, err = h.memberships.ApplyInvoicePaid(ctx, services.InvoicePaidCommand{
			SubscriptionID: subEvent.SubscriptionID,
			PeriodEnd:      subEvent.PeriodEnd,
		})
	case payments.EventSubscriptionDeleted:
		_, err = h.memberships.ApplySubscriptionDeleted(ctx, services.SubscriptionDeletedCommand{
			SubscriptionID: subEvent.SubscriptionID,
			CanceledAt:     subEvent.CanceledAt,
		})
	}
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMembershipUnknownCustomer), errors.Is(err, services.ErrMembershipNotFound):
			// Ack so Stripe stops retrying; the event references a customer this
			// service never created.
			h.logger(ctx, "webhook.stripe.skipped", map[string]any{
				"type":           subEvent.Type,
				"subscriptionId": subEvent.SubscriptionID,
				"error":          err.Error(),
			})
		case errors.Is(err, services.ErrMembershipInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply webhook event", http.StatusInternalServerError))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

type relayReceiptRequest struct {
	Ref        string `json:"ref"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	OccurredAt string `json:"occurred_at"`
}

// RelayWebhookHandlers consumes delivery receipts from the notification relay.
// The route sits behind the shared-secret webhook middleware.
type RelayWebhookHandlers struct {
	notifications services.NotificationService
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewRelayWebhookHandlers constructs a new RelayWebhookHandlers instance.
func NewRelayWebhookHandlers(notifications services.NotificationService, logger func(ctx context.Context, event string, fields map[string]any)) *RelayWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RelayWebhookHandlers{notifications: notifications, logger: logger}
}

// Routes registers the relay callback endpoint.
func (h *RelayWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notify", h.handleReceipt)
}

func (h *RelayWebhookHandlers) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	var req relayReceiptRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cmd := services.DeliveryReceiptCommand{
		Ref:    req.Ref,
		Status: req.Status,
		Detail: req.Detail,
	}
	if ts := strings.TrimSpace(req.OccurredAt); ts != "" {
		occurred, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "occurred_at must be RFC 3339", http.StatusBadRequest))
			return
		}
		cmd.OccurredAt = occurred
	}

	if _, err := h.notifications.ApplyDeliveryReceipt(ctx, cmd); err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			// Ack so the relay stops retrying; the ref was never recorded here.
			h.logger(ctx, "webhook.notify.skipped", map[string]any{
				"ref":   req.Ref,
				"error": err.Error(),
			})
		case errors.Is(err, services.ErrNotificationInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply delivery receipt", http.StatusInternalServerError))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}
