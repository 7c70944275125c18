package payments

import (
	"context"
	"sync"
	"time"

	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/txn"
)

// payStore is an in-memory double for the transaction store plus the order
// and method readers the ledger needs. Its WithTransaction snapshots state
// and restores it on error.
type payStore struct {
	mu sync.Mutex

	methods   map[int64]*orders.PaymentMethod
	orders    map[int64]*orders.Order
	txs       []*orders.Transaction
	callbacks []orders.CallbackRecord

	evMu   sync.Mutex // separate: Enqueue fires from post-commit hooks
	events []orders.Event

	nextTxID int64
}

type payTxKey struct{}

func newPayStore() *payStore {
	return &payStore{
		methods:  map[int64]*orders.PaymentMethod{},
		orders:   map[int64]*orders.Order{},
		nextTxID: 500,
	}
}

func (m *payStore) lock(ctx context.Context) func() {
	if ctx.Value(payTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *payStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(payTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	savedOrders := map[int64]orders.Order{}
	for id, o := range m.orders {
		savedOrders[id] = *o
	}
	var savedTxs []orders.Transaction
	for _, t := range m.txs {
		savedTxs = append(savedTxs, *t)
	}
	savedCallbacks := append([]orders.CallbackRecord(nil), m.callbacks...)
	savedNext := m.nextTxID

	ctx = context.WithValue(ctx, payTxKey{}, struct{}{})
	ctx, hooks := txn.WithHooks(ctx)
	if err := fn(ctx); err != nil {
		m.orders = map[int64]*orders.Order{}
		for id := range savedOrders {
			o := savedOrders[id]
			m.orders[id] = &o
		}
		m.txs = nil
		for i := range savedTxs {
			t := savedTxs[i]
			m.txs = append(m.txs, &t)
		}
		m.callbacks = savedCallbacks
		m.nextTxID = savedNext
		return err
	}
	hooks.Run()
	return nil
}

// --- TransactionStore ---

func (m *payStore) Insert(ctx context.Context, t *orders.Transaction) error {
	defer m.lock(ctx)()
	m.nextTxID++
	t.ID = m.nextTxID
	cp := *t
	m.txs = append(m.txs, &cp)
	return nil
}

func (m *payStore) CancelPending(ctx context.Context, orderID int64) (int64, error) {
	defer m.lock(ctx)()
	var n int64
	for _, t := range m.txs {
		if t.OrderID == orderID && t.Status == orders.TxPending {
			t.Status = orders.TxCancelled
			n++
		}
	}
	return n, nil
}

func (m *payStore) ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error) {
	defer m.lock(ctx)()
	var n int64
	for _, t := range m.txs {
		if t.OrderID == orderID && t.Status == orders.TxPending {
			t.Status = orders.TxSuccess
			t.CompletedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *payStore) FindByCode(ctx context.Context, code string) (*orders.Transaction, error) {
	defer m.lock(ctx)()
	for _, t := range m.txs {
		if t.Code == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, &orders.NotFoundError{Resource: "transaction", Key: code}
}

func (m *payStore) LatestPending(ctx context.Context, orderCode string) (*orders.Transaction, error) {
	defer m.lock(ctx)()
	var o *orders.Order
	for _, cand := range m.orders {
		if cand.OrderCode == orderCode {
			o = cand
			break
		}
	}
	if o == nil {
		return nil, nil
	}
	var latest *orders.Transaction
	for _, t := range m.txs {
		if t.OrderID == o.ID && t.Status == orders.TxPending {
			if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
				latest = t
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *payStore) ListByOrder(ctx context.Context, orderID int64) ([]orders.Transaction, error) {
	defer m.lock(ctx)()
	var out []orders.Transaction
	for _, t := range m.txs {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *payStore) SetStatus(ctx context.Context, id int64, status orders.TxStatus, completedAt *time.Time, note string) error {
	defer m.lock(ctx)()
	for _, t := range m.txs {
		if t.ID == id {
			t.Status = status
			t.CompletedAt = completedAt
			if note != "" {
				t.Note = note
			}
			return nil
		}
	}
	return &orders.NotFoundError{Resource: "transaction", Key: id}
}

func (m *payStore) InsertCallback(ctx context.Context, rec *orders.CallbackRecord) error {
	defer m.lock(ctx)()
	rec.ID = int64(len(m.callbacks) + 1)
	rec.CreatedAt = time.Now()
	m.callbacks = append(m.callbacks, *rec)
	return nil
}

// --- OrderReader / MethodReader ---

func (m *payStore) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	defer m.lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "order", Key: id}
	}
	cp := *o
	return &cp, nil
}

func (m *payStore) GetByCode(ctx context.Context, code string) (*orders.Order, error) {
	defer m.lock(ctx)()
	for _, o := range m.orders {
		if o.OrderCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &orders.NotFoundError{Resource: "order", Key: code}
}

func (m *payStore) UpdateStatus(ctx context.Context, id int64, status orders.Status) error {
	defer m.lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return &orders.NotFoundError{Resource: "order", Key: id}
	}
	o.Status = status
	return nil
}

func (m *payStore) GetPaymentMethod(ctx context.Context, id int64) (*orders.PaymentMethod, error) {
	defer m.lock(ctx)()
	p, ok := m.methods[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "payment method", Key: id}
	}
	cp := *p
	return &cp, nil
}

// --- EventSink ---

func (m *payStore) Enqueue(e orders.Event) bool {
	m.evMu.Lock()
	m.events = append(m.events, e)
	m.evMu.Unlock()
	return true
}

func (m *payStore) pendingFor(orderID int64) []*orders.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orders.Transaction
	for _, t := range m.txs {
		if t.OrderID == orderID && t.Status == orders.TxPending {
			out = append(out, t)
		}
	}
	return out
}
