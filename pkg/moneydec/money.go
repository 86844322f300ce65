// Package moneydec centralizes fixed-point decimal handling for the sieve so
// that invoice totals (scale 4) and line amounts (scale 6) are never
// represented as floats on the persistence or comparison paths.
package moneydec

import "github.com/shopspring/decimal"

// TotalScale is the fixed-point scale for invoice gross/tax totals.
const TotalScale = 4

// LineScale is the fixed-point scale for line quantity/price/amount fields.
const LineScale = 6

// RoundCents rounds d to 2 decimal places using half-away-from-zero
// rounding, applied identically regardless of which side of a comparison d
// comes from (spec.md §9: avoid database-side rounding divergence).
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

// SameRoundedTotal reports whether a and b are equal once both are rounded
// to 2 decimal places with half-away-from-zero rounding.
func SameRoundedTotal(a, b decimal.Decimal) bool {
	return RoundCents(a).Equal(RoundCents(b))
}

// Ratio safely computes numerator / max(|denominator|, 1), so any
// denominator whose magnitude is below 1 (zero included) is treated as 1,
// and returns a float64 since all downstream
// feature consumers operate on float64 feature vectors.
func Ratio(numerator, denominator decimal.Decimal) float64 {
	floor := decimal.NewFromInt(1)
	denAbs := denominator.Abs()
	if denAbs.LessThan(floor) {
		denAbs = floor
	}
	f, _ := numerator.Div(denAbs).Float64()
	return f
}

// Float64 converts d to float64 for feature-vector arithmetic. Lossy, but
// only used downstream of storage/comparison, never for persistence.
func Float64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
