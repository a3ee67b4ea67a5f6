package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taketaketaketake/bol-sub000/internal/platform/httpx"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	PricingModel string `json:"pricing_model"`
	Currency     string `json:"currency"`
	TotalCents   int64  `json:"total_cents"`
	PickupDate   string `json:"pickup_date,omitempty"`
	PickupWindow string `json:"pickup_window,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type orderPayload struct {
	ID                string                   `json:"id"`
	CustomerID        string                   `json:"customer_id"`
	LaundromatID      string                   `json:"laundromat_id,omitempty"`
	DriverID          string                   `json:"driver_id,omitempty"`
	PricingModel      string                   `json:"pricing_model"`
	Status            string                   `json:"status"`
	Payment           orderPaymentPayload      `json:"payment"`
	Totals            orderTotalsPayload       `json:"totals"`
	EstimatedWeightLb float64                  `json:"estimated_weight_lb,omitempty"`
	WeightAdjustment  *weightAdjustmentPayload `json:"weight_adjustment,omitempty"`
	AddOns            []orderAddOnPayload      `json:"add_ons,omitempty"`
	PickupAddress     addressPayload           `json:"pickup_address"`
	DeliveryAddress   addressPayload           `json:"delivery_address"`
	PickupDate        string                   `json:"pickup_date"`
	PickupWindow      timeWindowPayload        `json:"pickup_window"`
	DeliveryWindow    timeWindowPayload        `json:"delivery_window"`
	Notes             string                   `json:"notes,omitempty"`
	PickupPhotoPath   string                   `json:"pickup_photo_path,omitempty"`
	DeliveryPhotoPath string                   `json:"delivery_photo_path,omitempty"`
	CanceledAt        string                   `json:"canceled_at,omitempty"`
	CreatedAt         string                   `json:"created_at"`
	UpdatedAt         string                   `json:"updated_at,omitempty"`
}

type orderPaymentPayload struct {
	Status          string `json:"status"`
	IntentID        string `json:"intent_id,omitempty"`
	AuthorizedCents int64  `json:"authorized_cents,omitempty"`
	CapturedCents   int64  `json:"captured_cents,omitempty"`
}

type orderTotalsPayload struct {
	Currency           string `json:"currency"`
	RatePerPoundCents  int64  `json:"rate_per_pound_cents,omitempty"`
	SubtotalCents      int64  `json:"subtotal_cents"`
	AddOnTotalCents    int64  `json:"add_on_total_cents,omitempty"`
	RushFeeCents       int64  `json:"rush_fee_cents,omitempty"`
	OverweightFeeCents int64  `json:"overweight_fee_cents,omitempty"`
	DiscountCents      int64  `json:"discount_cents,omitempty"`
	TotalCents         int64  `json:"total_cents"`
	RefundedCents      int64  `json:"refunded_cents,omitempty"`
	MinimumApplied     bool   `json:"minimum_applied,omitempty"`
	MemberPricing      bool   `json:"member_pricing,omitempty"`
}

type weightAdjustmentPayload struct {
	State      string   `json:"state"`
	MeasuredLb *float64 `json:"measured_lb,omitempty"`
	FeeCents   int64    `json:"fee_cents,omitempty"`
	AdjustedBy string   `json:"adjusted_by,omitempty"`
	AdjustedAt string   `json:"adjusted_at,omitempty"`
}

type orderAddOnPayload struct {
	Code       string `json:"code"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

type addressPayload struct {
	Line1        string `json:"line1"`
	Line2        string `json:"line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Instructions string `json:"instructions,omitempty"`
}

type timeWindowPayload struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

type refundPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type statusChangePayload struct {
	ID             string `json:"id"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	Trigger        string `json:"trigger"`
	ActorID        string `json:"actor_id,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type orderMessagePayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:           strings.TrimSpace(order.ID),
		Status:       string(order.Status),
		PricingModel: string(order.PricingModel),
		Currency:     strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		TotalCents:   order.Totals.TotalCents,
		PickupDate:   formatDate(order.PickupDate),
		PickupWindow: order.PickupWindow.Label,
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           strings.TrimSpace(order.ID),
		CustomerID:   strings.TrimSpace(order.CustomerID),
		LaundromatID: strings.TrimSpace(order.LaundromatID),
		DriverID:     strings.TrimSpace(order.DriverID),
		PricingModel: string(order.PricingModel),
		Status:       string(order.Status),
		Payment: orderPaymentPayload{
			Status:          string(order.Payment.Status),
			IntentID:        strings.TrimSpace(order.Payment.IntentID),
			AuthorizedCents: order.Payment.AuthorizedCents,
			CapturedCents:   order.Payment.CapturedCents,
		},
		Totals: orderTotalsPayload{
			Currency:           strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
			RatePerPoundCents:  order.Totals.RatePerPoundCents,
			SubtotalCents:      order.Totals.SubtotalCents,
			AddOnTotalCents:    order.Totals.AddOnTotalCents,
			RushFeeCents:       order.Totals.RushFeeCents,
			OverweightFeeCents: order.Totals.OverweightFeeCents,
			DiscountCents:      order.Totals.DiscountCents,
			TotalCents:         order.Totals.TotalCents,
			RefundedCents:      order.Totals.RefundedCents,
			MinimumApplied:     order.Totals.MinimumApplied,
			MemberPricing:      order.Totals.MemberPricing,
		},
		EstimatedWeightLb: order.EstimatedWeightLb,
		PickupAddress:     buildAddressPayload(order.PickupAddress),
		DeliveryAddress:   buildAddressPayload(order.DeliveryAddress),
		PickupDate:        formatDate(order.PickupDate),
		PickupWindow:      buildTimeWindowPayload(order.PickupWindow),
		DeliveryWindow:    buildTimeWindowPayload(order.DeliveryWindow),
		Notes:             strings.TrimSpace(order.Notes),
		PickupPhotoPath:   strings.TrimSpace(order.PickupPhotoPath),
		DeliveryPhotoPath: strings.TrimSpace(order.DeliveryPhotoPath),
		CanceledAt:        formatTime(pointerTime(order.CanceledAt)),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}

	if order.WeightAdjustment.Adjusted() {
		payload.WeightAdjustment = &weightAdjustmentPayload{
			State:      string(order.WeightAdjustment.State),
			MeasuredLb: order.WeightAdjustment.MeasuredLb,
			FeeCents:   order.WeightAdjustment.FeeCents,
			AdjustedBy: strings.TrimSpace(order.WeightAdjustment.AdjustedBy),
			AdjustedAt: formatTime(pointerTime(order.WeightAdjustment.AdjustedAt)),
		}
	}

	for _, addOn := range order.AddOns {
		payload.AddOns = append(payload.AddOns, orderAddOnPayload{
			Code:       strings.TrimSpace(addOn.Code),
			Name:       strings.TrimSpace(addOn.Name),
			PriceCents: addOn.PriceCents,
			Quantity:   addOn.Quantity,
		})
	}

	return payload
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Line1:        strings.TrimSpace(addr.Line1),
		Line2:        strings.TrimSpace(addr.Line2),
		City:         strings.TrimSpace(addr.City),
		State:        strings.TrimSpace(addr.State),
		PostalCode:   strings.TrimSpace(addr.PostalCode),
		Instructions: strings.TrimSpace(addr.Instructions),
	}
}

func buildTimeWindowPayload(window services.TimeWindow) timeWindowPayload {
	return timeWindowPayload{
		ID:        window.ID,
		Label:     window.Label,
		StartHour: window.StartHour,
		EndHour:   window.EndHour,
	}
}

func buildRefundPayload(refund services.Refund) refundPayload {
	return refundPayload{
		ID:          strings.TrimSpace(refund.ID),
		OrderID:     strings.TrimSpace(refund.OrderID),
		AmountCents: refund.AmountCents,
		Reason:      strings.TrimSpace(refund.Reason),
		CreatedBy:   strings.TrimSpace(refund.CreatedBy),
		CreatedAt:   formatTime(refund.CreatedAt),
	}
}

func buildStatusChangePayload(change services.StatusChange) statusChangePayload {
	return statusChangePayload{
		ID:             strings.TrimSpace(change.ID),
		FromStatus:     string(change.FromStatus),
		ToStatus:       string(change.ToStatus),
		Trigger:        change.Trigger,
		ActorID:        strings.TrimSpace(change.ActorID),
		SkipValidation: change.SkipValidation,
		Note:           strings.TrimSpace(change.Note),
		CreatedAt:      formatTime(change.CreatedAt),
	}
}

func buildOrderMessagePayload(message services.OrderMessage) orderMessagePayload {
	return orderMessagePayload{
		ID:        strings.TrimSpace(message.ID),
		OrderID:   strings.TrimSpace(message.OrderID),
		AuthorID:  strings.TrimSpace(message.AuthorID),
		Body:      message.Body,
		CreatedAt: formatTime(message.CreatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Cross-customer reads look identical to missing orders.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// writeTransitionError includes the valid next statuses so clients can recover.
func writeTransitionError(ctx context.Context, w http.ResponseWriter, err error, validTargets []services.OrderStatus) {
	if errors.Is(err, services.ErrOrderInvalidTransition) && len(validTargets) > 0 {
		targets := make([]string, 0, len(validTargets))
		for _, status := range validTargets {
			targets = append(targets, string(status))
		}
		httpErr := httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"valid_targets": targets})
		httpx.WriteError(ctx, w, httpErr)
		return
	}
	writeOrderError(ctx, w, err)
}

func writeBillingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBillingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBillingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrExceedsRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("exceeds_refundable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBillingNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("not_refundable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBillingConflict):
		httpx.WriteError(ctx, w, httpx.NewError("billing_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBillingPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("billing_error", "failed to process billing request", http.StatusInternalServerError))
	}
}

func writePhotoError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPhotoInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPhotoOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPhotoForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("photo_error", "failed to issue upload url", http.StatusInternalServerError))
	}
}
