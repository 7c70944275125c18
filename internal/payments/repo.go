package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/postgres"
)

type TransactionRepo struct{ DB *pgxpool.Pool }

func (r *TransactionRepo) Insert(ctx context.Context, t *orders.Transaction) error {
	q := postgres.From(ctx, r.DB)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return q.QueryRow(ctx, `
		INSERT INTO transactions(order_id, code, amount, status, note, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		t.OrderID, t.Code, t.Amount, t.Status, t.Note, t.CreatedAt, t.CompletedAt).Scan(&t.ID)
}

// CancelPending flips every PENDING transaction of the order to CANCELLED.
// Keeps the at-most-one-pending invariant before a new transaction is made.
func (r *TransactionRepo) CancelPending(ctx context.Context, orderID int64) (int64, error) {
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'CANCELLED'
		WHERE order_id = $1 AND status = 'PENDING'`, orderID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// ConfirmCODPending marks a delivered COD order's pending transaction paid.
func (r *TransactionRepo) ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error) {
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'SUCCESS', completed_at = $2
		WHERE order_id = $1 AND status = 'PENDING'`, orderID, at)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

const txColumns = `id, order_id, code, amount, status, note, created_at, completed_at`

func scanTx(row pgx.Row, code string) (*orders.Transaction, error) {
	var t orders.Transaction
	err := row.Scan(&t.ID, &t.OrderID, &t.Code, &t.Amount, &t.Status, &t.Note, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Resource: "transaction", Key: code}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByCode locks the row when called inside a unit of work, so the two
// reconciliation entry points serialize on the same transaction.
func (r *TransactionRepo) FindByCode(ctx context.Context, code string) (*orders.Transaction, error) {
	q := postgres.From(ctx, r.DB)
	return scanTx(q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE code = $1 FOR UPDATE`, code), code)
}

// LatestPending returns the newest PENDING transaction for the order code,
// or nil when there is none.
func (r *TransactionRepo) LatestPending(ctx context.Context, orderCode string) (*orders.Transaction, error) {
	q := postgres.From(ctx, r.DB)
	t, err := scanTx(q.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions t
		WHERE t.status = 'PENDING'
		  AND t.order_id = (SELECT id FROM orders WHERE order_code = $1)
		ORDER BY t.created_at DESC
		LIMIT 1`, orderCode), orderCode)
	var nf *orders.NotFoundError
	if errors.As(err, &nf) {
		return nil, nil
	}
	return t, err
}

// ListByOrder returns the order's full payment history, oldest first.
func (r *TransactionRepo) ListByOrder(ctx context.Context, orderID int64) ([]orders.Transaction, error) {
	q := postgres.From(ctx, r.DB)
	rows, err := q.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Transaction
	for rows.Next() {
		var t orders.Transaction
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Code, &t.Amount, &t.Status, &t.Note, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) SetStatus(ctx context.Context, id int64, status orders.TxStatus, completedAt *time.Time, note string) error {
	q := postgres.From(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE transactions SET status = $2, completed_at = $3, note = $4
		WHERE id = $1`, id, status, completedAt, note)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.NotFoundError{Resource: "transaction", Key: id}
	}
	return nil
}

// InsertCallback appends a verified callback for audit. Records are never
// updated or deleted.
func (r *TransactionRepo) InsertCallback(ctx context.Context, rec *orders.CallbackRecord) error {
	q := postgres.From(ctx, r.DB)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return q.QueryRow(ctx, `
		INSERT INTO gateway_callbacks(transaction_id, txn_ref, gateway_txn_no, bank_code,
		                              card_type, pay_date, order_info, response_code,
		                              transaction_status, raw_query, secure_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		rec.TransactionID, rec.TxnRef, rec.GatewayTxnNo, rec.BankCode,
		rec.CardType, rec.PayDate, rec.OrderInfo, rec.ResponseCode,
		rec.TransactionStatus, rec.RawQuery, rec.SecureHash, rec.CreatedAt).Scan(&rec.ID)
}
