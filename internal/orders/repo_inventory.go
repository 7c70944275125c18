package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoozy/fulfillment/internal/postgres"
)

type InventoryRepo struct{ DB *pgxpool.Pool }

// Reserve takes qty units off a variant's stock as a single conditional
// update, so concurrent reservations against the same row can never oversell.
// Returns the remaining quantity.
func (r *InventoryRepo) Reserve(ctx context.Context, variantID int64, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: qty must be > 0", ErrInvalidInput)
	}
	q := postgres.From(ctx, r.DB)

	var remaining int
	err := q.QueryRow(ctx, `
		UPDATE product_variants SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity`, variantID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Zero rows: either the variant is missing or stock is short.
	var available int
	err = q.QueryRow(ctx, `SELECT quantity FROM product_variants WHERE id = $1`, variantID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &NotFoundError{Resource: "product variant", Key: variantID}
	}
	if err != nil {
		return 0, err
	}
	if available < 0 {
		available = 0
	}
	return 0, &OutOfStockError{Requested: qty, Allowed: available}
}

// Restore puts qty units back. Called exactly once per reserved line when an
// order is cancelled.
func (r *InventoryRepo) Restore(ctx context.Context, variantID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: qty must be > 0", ErrInvalidInput)
	}
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `UPDATE product_variants SET quantity = quantity + $2 WHERE id = $1`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Resource: "product variant", Key: variantID}
	}
	return nil
}
