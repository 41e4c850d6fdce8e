package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

type hooksKey struct{}

type commitHooks struct {
	mu   sync.Mutex
	fns  []func(ctx context.Context)
	undo []func()
}

// WithTx returns a copy of ctx carrying tx. Repositories pick it up through
// TxFromContext so every statement in a unit of work shares one transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Transactor runs fn as one atomic unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// WithinTx begins a transaction, stores it in the context handed to fn and
// commits when fn returns nil. A context that already carries a transaction
// is reused, so nested calls join the outer unit of work.
func (t *PoolTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	hooks := &commitHooks{}
	if err := fn(context.WithValue(WithTx(ctx, tx), hooksKey{}, hooks)); err != nil {
		hooks.rollback()
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	hooks.run(ctx)
	return nil
}

// NoopTransactor runs fn without a database transaction. It backs the
// in-memory stores, which apply each write immediately and register an undo
// through OnRollback; the undos run in reverse when fn fails. AfterCommit
// callbacks wait until fn succeeds.
type NoopTransactor struct{}

func (NoopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(hooksKey{}) != nil {
		return fn(ctx)
	}
	hooks := &commitHooks{}
	if err := fn(context.WithValue(ctx, hooksKey{}, hooks)); err != nil {
		hooks.rollback()
		return err
	}
	hooks.run(ctx)
	return nil
}

// AfterCommit schedules fn to run once the unit of work in ctx commits. It
// is discarded on rollback. Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	h, _ := ctx.Value(hooksKey{}).(*commitHooks)
	if h == nil {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// OnRollback registers undo to run if the unit of work in ctx fails. Outside
// a unit of work it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	h, _ := ctx.Value(hooksKey{}).(*commitHooks)
	if h == nil {
		return
	}
	h.mu.Lock()
	h.undo = append(h.undo, undo)
	h.mu.Unlock()
}

func (h *commitHooks) rollback() {
	h.mu.Lock()
	undo := h.undo
	h.undo, h.fns = nil, nil
	h.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (h *commitHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns, h.undo = nil, nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}
