package txn

import (
	"context"
	"sync"
)

// Manager runs fn as one atomic unit of work. Implementations commit when fn
// returns nil and roll back otherwise.
type Manager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

// Hooks collects callbacks to run only after a successful commit.
type Hooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *Hooks) Add(fn func()) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *Hooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// WithHooks attaches a fresh hook list to ctx. Managers call this at the top
// of WithTransaction and Run() after commit.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	if h, ok := ctx.Value(hooksKey{}).(*Hooks); ok {
		return ctx, h // join ambient unit of work
	}
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// AfterCommit registers fn to run after the enclosing unit of work commits.
// Outside of one, fn runs immediately (nothing to roll back).
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey{}).(*Hooks); ok {
		h.Add(fn)
		return
	}
	fn()
}
