// Package slippage computes the minimum acceptable output of a conversion
// from a venue quote and a fixed global tolerance.
package slippage

import "github.com/shopspring/decimal"

// BpsDenominator is the basis-point denominator (100% = 10000 bps).
const BpsDenominator int64 = 10_000

// Guard holds the fixed tolerance and the settlement asset's scale. The
// tolerance is global configuration, never per-call.
type Guard struct {
	toleranceBps int64
	scale        int32
}

// NewGuard constructs a guard with the given tolerance in basis points and
// the settlement asset's fractional precision.
func NewGuard(toleranceBps int64, scale int32) Guard {
	if toleranceBps < 0 {
		toleranceBps = 0
	}
	if toleranceBps >= BpsDenominator {
		toleranceBps = BpsDenominator - 1
	}
	if scale < 0 {
		scale = 0
	}
	return Guard{toleranceBps: toleranceBps, scale: scale}
}

// ToleranceBps returns the configured tolerance.
func (g Guard) ToleranceBps() int64 { return g.toleranceBps }

// MinAcceptable computes floor(estimate * (10000 - tolerance) / 10000),
// flooring at the settlement asset's scale. Outcomes below this bound must
// be rejected by the venue, not the ledger.
func (g Guard) MinAcceptable(estimate decimal.Decimal) decimal.Decimal {
	if !estimate.IsPositive() {
		return decimal.Zero
	}
	numerator := decimal.NewFromInt(BpsDenominator - g.toleranceBps)
	scaled := estimate.Mul(numerator).Div(decimal.NewFromInt(BpsDenominator))
	return scaled.RoundFloor(g.scale)
}
