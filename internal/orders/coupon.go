package orders

import "time"

type CouponStatus int

const (
	CouponStatusUpcoming  CouponStatus = 0
	CouponStatusActive    CouponStatus = 1
	CouponStatusExpired   CouponStatus = 2
	CouponStatusDeleted   CouponStatus = 3
	CouponStatusExhausted CouponStatus = 4
)

type Coupon struct {
	ID             int64
	Code           string
	Name           string
	Percentage     bool    // true = percent of subtotal, false = fixed amount
	Value          float64 // percent or VND depending on Percentage
	ValueLimit     int64   // cap for percent coupons, 0 = no cap
	MinOrderValue  int64
	Quantity       int
	Status         CouponStatus
	StartDate      time.Time
	ExpirationDate time.Time
}

// CouponStatusFor recomputes status from quantity and the validity window.
// Exhaustion wins over the window: a used-up coupon stays EXHAUSTED even if
// still inside its dates.
func CouponStatusFor(now, start, end time.Time, quantity int) CouponStatus {
	if quantity <= 0 {
		return CouponStatusExhausted
	}
	if !start.IsZero() && start.After(now) {
		return CouponStatusUpcoming
	}
	if !end.IsZero() && end.Before(now) {
		return CouponStatusExpired
	}
	return CouponStatusActive
}

// Discount computes the coupon discount for a merchandise subtotal: percent
// coupons round half-up and respect the cap, fixed coupons apply as-is.
// Never exceeds the subtotal.
func (c *Coupon) Discount(subtotal int64) int64 {
	var d int64
	if c.Percentage {
		d = roundHalfUp(float64(subtotal) * c.Value / 100)
		if c.ValueLimit > 0 && d > c.ValueLimit {
			d = c.ValueLimit
		}
	} else {
		d = int64(c.Value)
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (c *Coupon) Snapshot() *CouponSnapshot {
	return &CouponSnapshot{
		Code:       c.Code,
		Name:       c.Name,
		Percentage: c.Percentage,
		Value:      c.Value,
		ValueLimit: c.ValueLimit,
	}
}
