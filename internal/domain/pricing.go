package domain

// PerPoundPrice captures the outputs of pricing an order by weight.
type PerPoundPrice struct {
	RatePerPoundCents int64
	SubtotalCents     int64
	TotalCents        int64
	MinimumApplied    bool
	SavingsCents      int64
}

// OverweightResult captures the outcome of checking a bag against its weight limit.
type OverweightResult struct {
	Overweight     bool
	OverageLb      float64
	IncrementsOver int
	FeeCents       int64
}

// BagQuote composes the flat bag price with any overweight fee.
type BagQuote struct {
	BasePriceCents int64
	Overweight     OverweightResult
	TotalCents     int64
}
