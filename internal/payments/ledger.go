// Package payments owns the payment-transaction state machine and the
// reconciliation of gateway callbacks against it.
package payments

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shoozy/fulfillment/internal/gateway"
	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/txn"
)

// retryTTL is how long a pending gateway transaction's reference code stays
// reusable; matches the expiry stamped into the payment URL.
const retryTTL = 15 * time.Minute

type TransactionStore interface {
	Insert(ctx context.Context, t *orders.Transaction) error
	CancelPending(ctx context.Context, orderID int64) (int64, error)
	ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error)
	FindByCode(ctx context.Context, code string) (*orders.Transaction, error)
	LatestPending(ctx context.Context, orderCode string) (*orders.Transaction, error)
	ListByOrder(ctx context.Context, orderID int64) ([]orders.Transaction, error)
	SetStatus(ctx context.Context, id int64, status orders.TxStatus, completedAt *time.Time, note string) error
	InsertCallback(ctx context.Context, rec *orders.CallbackRecord) error
}

type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	GetByCode(ctx context.Context, code string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, id int64, status orders.Status) error
}

type MethodReader interface {
	GetPaymentMethod(ctx context.Context, id int64) (*orders.PaymentMethod, error)
}

type EventSink interface {
	Enqueue(e orders.Event) bool
}

type Ledger struct {
	Tx      txn.Manager
	Store   TransactionStore
	Orders  OrderReader
	Methods MethodReader
	Gateway *gateway.Adapter

	now func() time.Time
}

func NewLedger(tx txn.Manager, store TransactionStore, ord OrderReader, methods MethodReader, gw *gateway.Adapter) *Ledger {
	return &Ledger{Tx: tx, Store: store, Orders: ord, Methods: methods, Gateway: gw, now: time.Now}
}

func isGatewayOrder(o *orders.Order, pm *orders.PaymentMethod) bool {
	return o.Online && pm.Kind == orders.MethodOnline
}

// EnsureInitialTransaction creates the payment-tracking record matching the
// order's (delivery mode, payment method) combination. Gateway orders are
// handled by CreateOrRenewGatewayTransaction instead.
func (l *Ledger) EnsureInitialTransaction(ctx context.Context, orderID int64) (*orders.Transaction, error) {
	var out *orders.Transaction
	err := l.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := l.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		pm, err := l.Methods.GetPaymentMethod(ctx, o.PaymentMethodID)
		if err != nil {
			return err
		}
		if isGatewayOrder(o, pm) {
			return nil // gateway transactions are created on payment start
		}

		if _, err := l.Store.CancelPending(ctx, o.ID); err != nil {
			return err
		}

		now := l.now()
		t := &orders.Transaction{
			OrderID:   o.ID,
			Amount:    o.FinalPrice,
			CreatedAt: now,
		}
		switch {
		case o.Online && pm.Kind == orders.MethodCash:
			// COD: money moves at the doorstep, stays PENDING until delivered
			t.Code = internalTxCode("COD", now)
			t.Status = orders.TxPending
		case !o.Online && pm.Kind == orders.MethodCash:
			t.Code = internalTxCode("CASH", now)
			t.Status = orders.TxSuccess
			t.CompletedAt = &now
		case !o.Online && pm.Kind == orders.MethodOnline:
			t.Code = internalTxCode("BANK", now)
			t.Status = orders.TxSuccess
			t.CompletedAt = &now
		default:
			t.Code = internalTxCode("OFF", now)
			t.Status = orders.TxPending
		}

		if err := l.Store.Insert(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrRenewGatewayTransaction cancels any pending attempt and opens a
// fresh PENDING transaction with a new reference code for the gateway.
func (l *Ledger) CreateOrRenewGatewayTransaction(ctx context.Context, orderID int64) (*orders.Transaction, error) {
	var out *orders.Transaction
	err := l.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := l.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		pm, err := l.Methods.GetPaymentMethod(ctx, o.PaymentMethodID)
		if err != nil {
			return err
		}
		if !isGatewayOrder(o, pm) {
			return orders.Conflict("order %s is not a gateway order", o.OrderCode)
		}
		if o.FinalPrice <= 0 {
			return fmt.Errorf("%w: final price not ready for %s", orders.ErrInvalidInput, o.OrderCode)
		}

		if _, err := l.Store.CancelPending(ctx, o.ID); err != nil {
			return err
		}

		t := &orders.Transaction{
			OrderID:   o.ID,
			Amount:    o.FinalPrice,
			Code:      fmt.Sprintf("VN%d", l.now().UnixMilli()),
			Status:    orders.TxPending,
			CreatedAt: l.now(),
		}
		if err := l.Store.Insert(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RetryGatewayTransaction rebuilds a payment URL for an order the customer
// abandoned mid-payment. A pending reference younger than the TTL is reused;
// an older one expires and a new transaction takes its place.
func (l *Ledger) RetryGatewayTransaction(ctx context.Context, orderCode, clientIP, returnURL string) (string, error) {
	var payURL string
	err := l.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := l.Orders.GetByCode(ctx, orderCode)
		if err != nil {
			return err
		}
		if o.Status == orders.StatusCancelled {
			return orders.Conflict("order %s is cancelled, cannot retry payment", orderCode)
		}
		if o.Status != orders.StatusPending {
			return orders.Conflict("order %s is already paid, no retry needed", orderCode)
		}
		if o.FinalPrice <= 0 {
			return fmt.Errorf("%w: final price not ready for %s", orders.ErrInvalidInput, orderCode)
		}

		pending, err := l.Store.LatestPending(ctx, orderCode)
		if err != nil {
			return err
		}

		now := l.now()
		if pending != nil {
			if pending.CreatedAt.After(now.Add(-retryTTL)) {
				payURL, err = l.Gateway.BuildPaymentURL(o.FinalPrice, pending.Code, returnURL, clientIP)
				return err
			}
			if err := l.Store.SetStatus(ctx, pending.ID, orders.TxExpired, nil, "Expired by retry"); err != nil {
				return err
			}
		}

		t := &orders.Transaction{
			OrderID:   o.ID,
			Amount:    o.FinalPrice,
			Code:      retryTxCode(orderCode),
			Status:    orders.TxPending,
			CreatedAt: now,
		}
		if err := l.Store.Insert(ctx, t); err != nil {
			return err
		}
		payURL, err = l.Gateway.BuildPaymentURL(o.FinalPrice, t.Code, returnURL, clientIP)
		return err
	})
	if err != nil {
		return "", err
	}
	return payURL, nil
}

// TransactionsFor lists an order's payment history.
func (l *Ledger) TransactionsFor(ctx context.Context, orderID int64) ([]orders.Transaction, error) {
	return l.Store.ListByOrder(ctx, orderID)
}

// PaymentURLFor builds the outbound URL for an existing transaction.
func (l *Ledger) PaymentURLFor(t *orders.Transaction, clientIP, returnURL string) (string, error) {
	return l.Gateway.BuildPaymentURL(t.Amount, t.Code, returnURL, clientIP)
}

// CancelPending and ConfirmCODPending join the caller's unit of work; the
// fulfillment service invokes them inside its own transaction.
func (l *Ledger) CancelPending(ctx context.Context, orderID int64) (int64, error) {
	return l.Store.CancelPending(ctx, orderID)
}

func (l *Ledger) ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error) {
	return l.Store.ConfirmCODPending(ctx, orderID, at)
}

func internalTxCode(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s%03d", prefix, now.Format("060102150405"), rand.Intn(900)+100)
}

func retryTxCode(orderCode string) string {
	rand8 := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return orderCode + "-" + rand8
}
