package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoozy/fulfillment/internal/postgres"
)

type CouponRepo struct{ DB *pgxpool.Pool }

func normalizeCouponCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func (r *CouponRepo) findByCode(ctx context.Context, code string) (*Coupon, error) {
	q := postgres.From(ctx, r.DB)
	var c Coupon
	err := q.QueryRow(ctx, `
		SELECT id, code, name, percentage, value, value_limit, min_order_value,
		       quantity, status, start_date, expiration_date
		FROM coupons WHERE code = $1`, code).Scan(
		&c.ID, &c.Code, &c.Name, &c.Percentage, &c.Value, &c.ValueLimit,
		&c.MinOrderValue, &c.Quantity, &c.Status, &c.StartDate, &c.ExpirationDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &CouponError{Reason: CouponNotFound, Code: code}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForOrder checks whether the coupon can be applied. Read-only, does
// not reserve a redemption.
func (r *CouponRepo) ValidateForOrder(ctx context.Context, code string, userID int64, orderValue int64) (*Coupon, error) {
	code = normalizeCouponCode(code)
	if code == "" {
		return nil, &CouponError{Reason: CouponNotFound, Code: code}
	}
	c, err := r.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case CouponStatusDeleted:
		return nil, &CouponError{Reason: CouponDeleted, Code: code}
	case CouponStatusExpired:
		return nil, &CouponError{Reason: CouponExpiredReason, Code: code}
	case CouponStatusExhausted:
		return nil, &CouponError{Reason: CouponExhausted, Code: code}
	case CouponStatusUpcoming:
		return nil, &CouponError{Reason: CouponNotYetActive, Code: code}
	}

	// Status may lag the clock; the dates are authoritative.
	now := time.Now()
	if !c.StartDate.IsZero() && c.StartDate.After(now) {
		return nil, &CouponError{Reason: CouponNotYetActive, Code: code}
	}
	if !c.ExpirationDate.IsZero() && c.ExpirationDate.Before(now) {
		return nil, &CouponError{Reason: CouponExpiredReason, Code: code}
	}

	q := postgres.From(ctx, r.DB)
	var used bool
	err = q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE coupon_id = $1 AND user_id = $2 AND status <> 'CANCELLED'
		)`, c.ID, userID).Scan(&used)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, &CouponError{Reason: CouponAlreadyUsed, Code: code}
	}

	if orderValue < c.MinOrderValue {
		return nil, &CouponError{Reason: CouponMinimumNotMet, Code: code}
	}
	return c, nil
}

// ReserveOne burns one redemption with a conditional decrement. Returns the
// remaining quantity and the (possibly updated) status.
func (r *CouponRepo) ReserveOne(ctx context.Context, couponID int64) (int, CouponStatus, error) {
	q := postgres.From(ctx, r.DB)

	var remaining int
	var status CouponStatus
	err := q.QueryRow(ctx, `
		UPDATE coupons SET quantity = quantity - 1
		WHERE id = $1 AND quantity > 0
		RETURNING quantity, status`, couponID).Scan(&remaining, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, &CouponError{Reason: CouponExhausted}
	}
	if err != nil {
		return 0, 0, err
	}

	if remaining == 0 && status != CouponStatusExhausted {
		status = CouponStatusExhausted
		if _, err := q.Exec(ctx, `UPDATE coupons SET status = $2 WHERE id = $1`, couponID, status); err != nil {
			return 0, 0, err
		}
	}
	return remaining, status, nil
}

// ReleaseOne gives one redemption back and recomputes status from the
// validity window if the coupon was exhausted.
func (r *CouponRepo) ReleaseOne(ctx context.Context, couponID int64) (*Coupon, error) {
	q := postgres.From(ctx, r.DB)

	var c Coupon
	err := q.QueryRow(ctx, `
		SELECT id, code, name, percentage, value, value_limit, min_order_value,
		       quantity, status, start_date, expiration_date
		FROM coupons WHERE id = $1 FOR UPDATE`, couponID).Scan(
		&c.ID, &c.Code, &c.Name, &c.Percentage, &c.Value, &c.ValueLimit,
		&c.MinOrderValue, &c.Quantity, &c.Status, &c.StartDate, &c.ExpirationDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "coupon", Key: couponID}
	}
	if err != nil {
		return nil, err
	}

	c.Quantity++
	if c.Status == CouponStatusExhausted {
		c.Status = CouponStatusFor(time.Now(), c.StartDate, c.ExpirationDate, c.Quantity)
	}
	_, err = q.Exec(ctx, `UPDATE coupons SET quantity = $2, status = $3 WHERE id = $1`,
		couponID, c.Quantity, c.Status)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
