package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature indicates the event payload failed signature verification.
var ErrWebhookSignature = errors.New("payments: invalid webhook signature")

// Webhook event types the service acts on. Everything else is acknowledged and dropped.
const (
	// EventSubscriptionCreated fires when a membership subscription starts.
	EventSubscriptionCreated = "customer.subscription.created"
	// EventInvoicePaid fires on each successful recurring payment.
	EventInvoicePaid = "invoice.paid"
	// EventSubscriptionDeleted fires when a membership subscription ends.
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// SubscriptionEvent is the normalised webhook payload handed to the membership service.
type SubscriptionEvent struct {
	Type             string
	SubscriptionID   string
	StripeCustomerID string
	Status           string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	CanceledAt       time.Time
}

// WebhookVerifier validates Stripe webhook signatures and decodes subscription events.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier for the endpoint's signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// Verify checks the signature header and returns the decoded event.
func (v *WebhookVerifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if v == nil {
		return stripe.Event{}, errors.New("payments: webhook verifier is nil")
	}
	event, err := webhook.ConstructEvent(payload, sigHeader, v.secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	return event, nil
}

// ParseSubscriptionEvent extracts the membership-relevant fields from a
// verified event. The bool result is false for event types the service ignores.
func ParseSubscriptionEvent(event stripe.Event) (SubscriptionEvent, bool, error) {
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return SubscriptionEvent{}, false, fmt.Errorf("payments: decode subscription event: %w", err)
		}
		out := SubscriptionEvent{
			Type:           string(event.Type),
			SubscriptionID: sub.ID,
			Status:         string(sub.Status),
			PeriodStart:    time.Unix(sub.CurrentPeriodStart, 0).UTC(),
			PeriodEnd:      time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		}
		if sub.Customer != nil {
			out.StripeCustomerID = sub.Customer.ID
		}
		if sub.CanceledAt != 0 {
			out.CanceledAt = time.Unix(sub.CanceledAt, 0).UTC()
		}
		return out, true, nil
	case EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return SubscriptionEvent{}, false, fmt.Errorf("payments: decode invoice event: %w", err)
		}
		out := SubscriptionEvent{
			Type:      string(event.Type),
			PeriodEnd: time.Unix(inv.PeriodEnd, 0).UTC(),
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.StripeCustomerID = inv.Customer.ID
		}
		return out, true, nil
	default:
		return SubscriptionEvent{}, false, nil
	}
}
