package services

import (
	"errors"
	"fmt"
	"math"

	"github.com/taketaketaketake/bol-sub000/internal/domain"
)

// ErrPricingInvalidInput signals unusable pricing inputs such as a non-finite weight.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// Pricing constants. All monetary values are integer cents.
const (
	// StandardRateCents is the non-member per-pound rate.
	StandardRateCents int64 = 225
	// MemberRateCents is the per-pound rate with an active membership.
	MemberRateCents int64 = 175
	// MinimumOrderCents is the floor total for per-pound orders.
	MinimumOrderCents int64 = 3500
	// OverweightIncrementLb is the billing increment for bag overage.
	OverweightIncrementLb float64 = 5
	// OverweightFeePerIncrementCents is charged per started overage increment.
	OverweightFeePerIncrementCents int64 = 500
)

var bagPriceCents = map[domain.BagSize]int64{
	domain.BagSmall:  3500,
	domain.BagMedium: 5500,
	domain.BagLarge:  8500,
}

var bagWeightLimitLb = map[domain.BagSize]float64{
	domain.BagSmall:  20,
	domain.BagMedium: 35,
	domain.BagLarge:  50,
}

// PerPoundRateCents returns the per-pound rate for the membership flag.
func PerPoundRateCents(member bool) int64 {
	if member {
		return MemberRateCents
	}
	return StandardRateCents
}

// PerPoundQuote prices an order by weight. Weight must be a positive finite number.
func PerPoundQuote(weightLb float64, member bool) (domain.PerPoundPrice, error) {
	if err := validateWeight(weightLb); err != nil {
		return domain.PerPoundPrice{}, err
	}

	rate := PerPoundRateCents(member)
	subtotal := int64(math.Round(weightLb * float64(rate)))
	total := subtotal
	if total < MinimumOrderCents {
		total = MinimumOrderCents
	}

	var savings int64
	if member {
		savings = int64(math.Round(weightLb * float64(StandardRateCents-MemberRateCents)))
	}

	return domain.PerPoundPrice{
		RatePerPoundCents: rate,
		SubtotalCents:     subtotal,
		TotalCents:        total,
		MinimumApplied:    total > subtotal,
		SavingsCents:      savings,
	}, nil
}

// BagPriceCents returns the flat price for a bag size.
func BagPriceCents(size domain.BagSize) (int64, error) {
	price, ok := bagPriceCents[size]
	if !ok {
		return 0, fmt.Errorf("%w: unknown bag size %q", ErrPricingInvalidInput, size)
	}
	return price, nil
}

// BagWeightLimitLb returns the weight limit for a bag size.
func BagWeightLimitLb(size domain.BagSize) (float64, error) {
	limit, ok := bagWeightLimitLb[size]
	if !ok {
		return 0, fmt.Errorf("%w: unknown bag size %q", ErrPricingInvalidInput, size)
	}
	return limit, nil
}

// OverweightFee checks a measured bag weight against the size limit. Overage is
// billed in started increments of OverweightIncrementLb.
func OverweightFee(size domain.BagSize, actualLb float64) (domain.OverweightResult, error) {
	limit, err := BagWeightLimitLb(size)
	if err != nil {
		return domain.OverweightResult{}, err
	}
	if err := validateWeight(actualLb); err != nil {
		return domain.OverweightResult{}, err
	}

	if actualLb <= limit {
		return domain.OverweightResult{}, nil
	}

	overage := actualLb - limit
	increments := int(math.Ceil(overage / OverweightIncrementLb))
	return domain.OverweightResult{
		Overweight:     true,
		OverageLb:      overage,
		IncrementsOver: increments,
		FeeCents:       int64(increments) * OverweightFeePerIncrementCents,
	}, nil
}

// BagQuote composes the flat bag price with the overweight fee when a measured
// weight is available. A nil weight quotes the base price alone.
func BagQuote(size domain.BagSize, actualLb *float64) (domain.BagQuote, error) {
	base, err := BagPriceCents(size)
	if err != nil {
		return domain.BagQuote{}, err
	}

	quote := domain.BagQuote{BasePriceCents: base, TotalCents: base}
	if actualLb == nil {
		return quote, nil
	}

	over, err := OverweightFee(size, *actualLb)
	if err != nil {
		return domain.BagQuote{}, err
	}
	quote.Overweight = over
	quote.TotalCents = base + over.FeeCents
	return quote, nil
}

func validateWeight(weightLb float64) error {
	if math.IsNaN(weightLb) || math.IsInf(weightLb, 0) {
		return fmt.Errorf("%w: weight must be a finite number", ErrPricingInvalidInput)
	}
	if weightLb <= 0 {
		return fmt.Errorf("%w: weight must be greater than zero", ErrPricingInvalidInput)
	}
	return nil
}
