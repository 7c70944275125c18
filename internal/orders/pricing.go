package orders

import "math"

// roundHalfUp rounds to the nearest whole currency unit, halves away from
// zero, matching how the storefront displays discounted prices.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

// PromotionDiscount is the per-unit discount for a percent promotion.
func PromotionDiscount(basePrice int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	return roundHalfUp(float64(basePrice) * percent / 100)
}

// PriceLine computes a line's per-unit discount and total. Percent bounds are
// validated when the promotion is created, not here.
func PriceLine(basePrice int64, percent float64, qty int) (unitDiscount, lineTotal int64) {
	unitDiscount = PromotionDiscount(basePrice, percent)
	lineTotal = (basePrice - unitDiscount) * int64(qty)
	return unitDiscount, lineTotal
}
