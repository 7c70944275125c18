package fulfillment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/txn"
)

// memStore is an in-memory double for every storage interface the service
// consumes. WithTransaction holds the store lock for the whole unit of work
// and restores a snapshot on error, so rollback semantics match the real
// thing closely enough for these tests.
type memStore struct {
	mu sync.Mutex

	users      map[int64]*orders.User
	methods    map[int64]*orders.PaymentMethod
	variants   map[int64]*orders.ProductVariant
	promotions map[int64]*orders.PromotionTerms // promotionID -> terms, any variant
	coupons    map[int64]*orders.Coupon

	orders   map[int64]*orders.Order
	items    map[int64][]orders.OrderItem
	timeline []orders.TimelineEntry
	txs      []*orders.Transaction

	nextOrderID int64
	nextTxID    int64

	failInsertOrder bool // force a late write failure inside the unit of work
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		users:       map[int64]*orders.User{},
		methods:     map[int64]*orders.PaymentMethod{},
		variants:    map[int64]*orders.ProductVariant{},
		promotions:  map[int64]*orders.PromotionTerms{},
		coupons:     map[int64]*orders.Coupon{},
		orders:      map[int64]*orders.Order{},
		items:       map[int64][]orders.OrderItem{},
		nextOrderID: 100,
		nextTxID:    500,
	}
}

// lock is a no-op inside an open unit of work, where the store mutex is
// already held.
func (m *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx) // join the ambient unit of work
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	ctx = context.WithValue(ctx, memTxKey{}, struct{}{})
	ctx, hooks := txn.WithHooks(ctx)

	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	hooks.Run()
	return nil
}

type memSnapshot struct {
	variants map[int64]orders.ProductVariant
	coupons  map[int64]orders.Coupon
	orders   map[int64]orders.Order
	items    map[int64][]orders.OrderItem
	timeline []orders.TimelineEntry
	txs      []orders.Transaction
	nextOID  int64
	nextTID  int64
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		variants: map[int64]orders.ProductVariant{},
		coupons:  map[int64]orders.Coupon{},
		orders:   map[int64]orders.Order{},
		items:    map[int64][]orders.OrderItem{},
		timeline: append([]orders.TimelineEntry(nil), m.timeline...),
		nextOID:  m.nextOrderID,
		nextTID:  m.nextTxID,
	}
	for id, v := range m.variants {
		s.variants[id] = *v
	}
	for id, c := range m.coupons {
		s.coupons[id] = *c
	}
	for id, o := range m.orders {
		s.orders[id] = *o
	}
	for id, its := range m.items {
		s.items[id] = append([]orders.OrderItem(nil), its...)
	}
	for _, t := range m.txs {
		s.txs = append(s.txs, *t)
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.variants = map[int64]*orders.ProductVariant{}
	for id := range s.variants {
		v := s.variants[id]
		m.variants[id] = &v
	}
	m.coupons = map[int64]*orders.Coupon{}
	for id := range s.coupons {
		c := s.coupons[id]
		m.coupons[id] = &c
	}
	m.orders = map[int64]*orders.Order{}
	for id := range s.orders {
		o := s.orders[id]
		m.orders[id] = &o
	}
	m.items = map[int64][]orders.OrderItem{}
	for id, its := range s.items {
		m.items[id] = append([]orders.OrderItem(nil), its...)
	}
	m.timeline = s.timeline
	m.txs = nil
	for i := range s.txs {
		t := s.txs[i]
		m.txs = append(m.txs, &t)
	}
	m.nextOrderID = s.nextOID
	m.nextTxID = s.nextTID
}

// --- Catalog ---

func (m *memStore) GetUser(ctx context.Context, id int64) (*orders.User, error) {
	defer m.lock(ctx)()
	u, ok := m.users[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "user", Key: id}
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetPaymentMethod(ctx context.Context, id int64) (*orders.PaymentMethod, error) {
	defer m.lock(ctx)()
	p, ok := m.methods[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "payment method", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetVariant(ctx context.Context, id int64) (*orders.ProductVariant, error) {
	defer m.lock(ctx)()
	v, ok := m.variants[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "product variant", Key: id}
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) PromotionFor(ctx context.Context, promotionID, variantID int64) (*orders.PromotionTerms, error) {
	defer m.lock(ctx)()
	t, ok := m.promotions[promotionID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// --- InventoryLedger ---

func (m *memStore) Reserve(ctx context.Context, variantID int64, qty int) (int, error) {
	defer m.lock(ctx)()
	v, ok := m.variants[variantID]
	if !ok {
		return 0, &orders.NotFoundError{Resource: "product variant", Key: variantID}
	}
	if v.Quantity < qty {
		return 0, &orders.OutOfStockError{Requested: qty, Allowed: v.Quantity}
	}
	v.Quantity -= qty
	return v.Quantity, nil
}

func (m *memStore) Restore(ctx context.Context, variantID int64, qty int) error {
	defer m.lock(ctx)()
	v, ok := m.variants[variantID]
	if !ok {
		return &orders.NotFoundError{Resource: "product variant", Key: variantID}
	}
	v.Quantity += qty
	return nil
}

// --- CouponLedger ---

func (m *memStore) findCoupon(code string) *orders.Coupon {
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			return c
		}
	}
	return nil
}

func (m *memStore) ValidateForOrder(ctx context.Context, code string, userID int64, orderValue int64) (*orders.Coupon, error) {
	defer m.lock(ctx)()
	c := m.findCoupon(code)
	if c == nil {
		return nil, &orders.CouponError{Reason: orders.CouponNotFound, Code: code}
	}
	if c.Status == orders.CouponStatusDeleted {
		return nil, &orders.CouponError{Reason: orders.CouponDeleted, Code: code}
	}
	now := time.Now()
	if !c.StartDate.IsZero() && c.StartDate.After(now) {
		return nil, &orders.CouponError{Reason: orders.CouponNotYetActive, Code: code}
	}
	if !c.ExpirationDate.IsZero() && c.ExpirationDate.Before(now) {
		return nil, &orders.CouponError{Reason: orders.CouponExpiredReason, Code: code}
	}
	if c.Quantity <= 0 {
		return nil, &orders.CouponError{Reason: orders.CouponExhausted, Code: code}
	}
	for _, o := range m.orders {
		if o.CouponID != nil && *o.CouponID == c.ID && o.UserID == userID && o.Status != orders.StatusCancelled {
			return nil, &orders.CouponError{Reason: orders.CouponAlreadyUsed, Code: code}
		}
	}
	if orderValue < c.MinOrderValue {
		return nil, &orders.CouponError{Reason: orders.CouponMinimumNotMet, Code: code}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ReserveOne(ctx context.Context, couponID int64) (int, orders.CouponStatus, error) {
	defer m.lock(ctx)()
	c, ok := m.coupons[couponID]
	if !ok {
		return 0, 0, &orders.NotFoundError{Resource: "coupon", Key: couponID}
	}
	if c.Quantity <= 0 {
		return 0, 0, &orders.CouponError{Reason: orders.CouponExhausted, Code: c.Code}
	}
	c.Quantity--
	if c.Quantity == 0 {
		c.Status = orders.CouponStatusExhausted
	}
	return c.Quantity, c.Status, nil
}

func (m *memStore) ReleaseOne(ctx context.Context, couponID int64) (*orders.Coupon, error) {
	defer m.lock(ctx)()
	c, ok := m.coupons[couponID]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "coupon", Key: couponID}
	}
	c.Quantity++
	if c.Status == orders.CouponStatusExhausted {
		c.Status = orders.CouponStatusFor(time.Now(), c.StartDate, c.ExpirationDate, c.Quantity)
	}
	cp := *c
	return &cp, nil
}

// --- OrderStore ---

func (m *memStore) Insert(ctx context.Context, o *orders.Order, items []orders.OrderItem) error {
	defer m.lock(ctx)()
	if m.failInsertOrder {
		return errors.New("insert failed")
	}
	m.nextOrderID++
	o.ID = m.nextOrderID
	o.CreatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	for i := range items {
		items[i].OrderID = o.ID
		items[i].ID = int64(i + 1)
	}
	m.items[o.ID] = append([]orders.OrderItem(nil), items...)
	return nil
}

func (m *memStore) ExistsByCode(ctx context.Context, code string) (bool, error) {
	defer m.lock(ctx)()
	for _, o := range m.orders {
		if o.OrderCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	defer m.lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return nil, &orders.NotFoundError{Resource: "order", Key: id}
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetByCode(ctx context.Context, code string) (*orders.Order, error) {
	defer m.lock(ctx)()
	for _, o := range m.orders {
		if o.OrderCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &orders.NotFoundError{Resource: "order", Key: code}
}

func (m *memStore) Items(ctx context.Context, orderID int64) ([]orders.OrderItem, error) {
	defer m.lock(ctx)()
	return append([]orders.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id int64, status orders.Status) error {
	defer m.lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return &orders.NotFoundError{Resource: "order", Key: id}
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkCancelled(ctx context.Context, id int64) error {
	defer m.lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return &orders.NotFoundError{Resource: "order", Key: id}
	}
	o.Status = orders.StatusCancelled
	o.Active = false
	o.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) AddTimeline(ctx context.Context, e *orders.TimelineEntry) error {
	defer m.lock(ctx)()
	e.ID = int64(len(m.timeline) + 1)
	e.CreatedAt = time.Now()
	m.timeline = append(m.timeline, *e)
	return nil
}

// --- PaymentLedger (the slice the fulfillment service uses) ---

func (m *memStore) CancelPending(ctx context.Context, orderID int64) (int64, error) {
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

func (m *memStore) ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error) {
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

func (m *memStore) addTx(t *orders.Transaction) {
	m.nextTxID++
	t.ID = m.nextTxID
	m.txs = append(m.txs, t)
}

// --- EventSink ---

type memBus struct {
	mu     sync.Mutex
	events []orders.Event
}

func (b *memBus) Enqueue(e orders.Event) bool {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	return true
}

func (b *memBus) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Action
	}
	return out
}
