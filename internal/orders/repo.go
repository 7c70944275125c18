package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoozy/fulfillment/internal/postgres"
)

// CatalogRepo covers the read-only collaborator lookups the core needs:
// users, payment methods, variant prices, promotion terms.
type CatalogRepo struct{ DB *pgxpool.Pool }

func (r *CatalogRepo) GetUser(ctx context.Context, id int64) (*User, error) {
	q := postgres.From(ctx, r.DB)
	var u User
	err := q.QueryRow(ctx, `SELECT id, email, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "user", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *CatalogRepo) GetPaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error) {
	q := postgres.From(ctx, r.DB)
	var pm PaymentMethod
	err := q.QueryRow(ctx, `SELECT id, name, kind FROM payment_methods WHERE id = $1`, id).
		Scan(&pm.ID, &pm.Name, &pm.Kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "payment method", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *CatalogRepo) GetVariant(ctx context.Context, id int64) (*ProductVariant, error) {
	q := postgres.From(ctx, r.DB)
	var v ProductVariant
	err := q.QueryRow(ctx, `SELECT id, sku, sell_price, quantity FROM product_variants WHERE id = $1`, id).
		Scan(&v.ID, &v.SKU, &v.SellPrice, &v.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "product variant", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PromotionFor resolves the percent that applies to a variant under a
// promotion: the per-product custom value wins over the promotion default.
// Returns nil when the promotion does not cover the variant.
func (r *CatalogRepo) PromotionFor(ctx context.Context, promotionID, variantID int64) (*PromotionTerms, error) {
	q := postgres.From(ctx, r.DB)
	var t PromotionTerms
	err := q.QueryRow(ctx, `
		SELECT p.code, p.name, COALESCE(pp.custom_value, p.value)
		FROM product_promotions pp
		JOIN promotions p ON p.id = pp.promotion_id
		WHERE pp.promotion_id = $1 AND pp.product_variant_id = $2`,
		promotionID, variantID).Scan(&t.Code, &t.Name, &t.Percent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type OrderRepo struct{ DB *pgxpool.Pool }

func (r *OrderRepo) Insert(ctx context.Context, o *Order, items []OrderItem) error {
	q := postgres.From(ctx, r.DB)

	// Coupon snapshot columns are null when no coupon was used.
	var snapCode, snapName *string
	var snapPercentage *bool
	var snapValue *float64
	var snapLimit *int64
	if s := o.CouponSnapshot; s != nil {
		snapCode, snapName = &s.Code, &s.Name
		snapPercentage = &s.Percentage
		snapValue = &s.Value
		snapLimit = &s.ValueLimit
	}

	err := q.QueryRow(ctx, `
		INSERT INTO orders(order_code, user_id, payment_method_id, online, status,
		                   total_money, shipping_fee, coupon_discount, final_price,
		                   coupon_id, coupon_code, coupon_name, coupon_percentage,
		                   coupon_value, coupon_value_limit,
		                   fullname, phone_number, address, note, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id, created_at, updated_at`,
		o.OrderCode, o.UserID, o.PaymentMethodID, o.Online, o.Status,
		o.TotalMoney, o.ShippingFee, o.CouponDiscount, o.FinalPrice,
		o.CouponID, snapCode, snapName, snapPercentage, snapValue, snapLimit,
		o.Fullname, o.PhoneNumber, o.Address, o.Note, o.Active,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].OrderID = o.ID
		it := &items[i]
		err := q.QueryRow(ctx, `
			INSERT INTO order_items(order_id, variant_id, quantity, price,
			                        promotion_code, promotion_name, promotion_value,
			                        promotion_discount, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`,
			it.OrderID, it.VariantID, it.Quantity, it.Price,
			it.PromotionCode, it.PromotionName, it.PromotionValue,
			it.PromotionDiscount, it.LineTotal).Scan(&it.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	q := postgres.From(ctx, r.DB)
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_code = $1)`, code).Scan(&exists)
	return exists, err
}

const orderColumns = `id, order_code, user_id, payment_method_id, online, status,
       total_money, shipping_fee, coupon_discount, final_price, coupon_id,
       fullname, phone_number, address, note, active, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderCode, &o.UserID, &o.PaymentMethodID, &o.Online,
		&o.Status, &o.TotalMoney, &o.ShippingFee, &o.CouponDiscount, &o.FinalPrice,
		&o.CouponID, &o.Fullname, &o.PhoneNumber, &o.Address, &o.Note, &o.Active,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "order", Key: nil}
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*Order, error) {
	q := postgres.From(ctx, r.DB)
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil, &NotFoundError{Resource: "order", Key: id}
	}
	return o, err
}

func (r *OrderRepo) GetByCode(ctx context.Context, code string) (*Order, error) {
	q := postgres.From(ctx, r.DB)
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_code = $1`, code))
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil, &NotFoundError{Resource: "order", Key: code}
	}
	return o, err
}

func (r *OrderRepo) Items(ctx context.Context, orderID int64) ([]OrderItem, error) {
	q := postgres.From(ctx, r.DB)
	rows, err := q.Query(ctx, `
		SELECT id, order_id, variant_id, quantity, price, promotion_code,
		       promotion_name, promotion_value, promotion_discount, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Quantity, &it.Price,
			&it.PromotionCode, &it.PromotionName, &it.PromotionValue,
			&it.PromotionDiscount, &it.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Resource: "order", Key: id}
	}
	return nil
}

// MarkCancelled soft-cancels: orders are never physically deleted.
func (r *OrderRepo) MarkCancelled(ctx context.Context, id int64) error {
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE orders SET status = 'CANCELLED', active = false, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Resource: "order", Key: id}
	}
	return nil
}

func (r *OrderRepo) AddTimeline(ctx context.Context, e *TimelineEntry) error {
	q := postgres.From(ctx, r.DB)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return q.QueryRow(ctx, `
		INSERT INTO order_timelines(order_id, user_id, type, description, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		e.OrderID, e.UserID, e.Type, e.Description, e.CreatedAt).Scan(&e.ID)
}
