package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (PaymentDetails, error) {
	f.lastOp = "authorize"
	return f.payment, f.err
}

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	f.lastOp = "charge"
	return f.payment, f.err
}

func (f *fakeProvider) UpdateAmount(ctx context.Context, req UpdateAmountRequest) (PaymentDetails, error) {
	f.lastOp = "update_amount"
	return f.payment, f.err
}

func (f *fakeProvider) Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error) {
	f.lastOp = "capture"
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) CancelAuthorization(ctx context.Context, req CancelRequest) (PaymentDetails, error) {
	f.lastOp = "cancel"
	return f.payment, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerAuthorizeUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{IntentID: "pi_stripe"}}
	square := &fakeProvider{payment: PaymentDetails{IntentID: "pi_square"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"square": square,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Authorize(ctx, PaymentContext{PreferredProvider: "square"}, AuthorizeRequest{AmountCents: 3500, Currency: "USD"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if details.Provider != "square" {
		t.Fatalf("expected provider 'square', got %q", details.Provider)
	}
	if square.lastOp != "authorize" {
		t.Fatalf("expected square provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{IntentID: "pi_stripe"}}
	square := &fakeProvider{payment: PaymentDetails{IntentID: "pi_square"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"square": square,
		},
		WithCurrencyRoutes(map[string]string{"CAD": "square"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Authorize(ctx, PaymentContext{Currency: "CAD"}, AuthorizeRequest{AmountCents: 3500, Currency: "CAD"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if details.Provider != "square" {
		t.Fatalf("expected provider 'square', got %q", details.Provider)
	}
	if square.lastOp != "authorize" {
		t.Fatalf("expected square provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Capture(ctx, PaymentContext{}, CaptureRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if stripe.lastOp != "capture" {
		t.Fatalf("expected capture to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "square": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Authorize(ctx, PaymentContext{PreferredProvider: "unknown"}, AuthorizeRequest{AmountCents: 100, Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
