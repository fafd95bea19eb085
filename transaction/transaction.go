// Package transaction provides a unit of work bound to a context.Context.
//
// The active transaction travels with the context, so nested calls made
// with a derived context join it while unrelated call chains never see it.
// Only the outermost call commits or rolls back:
//
//	err := m.Run(ctx, func(ctx context.Context, tc *transaction.Context) error {
//	    tc.OnCommit(func(context.Context) { cache.Purge() })
//	    return m.Run(ctx, func(ctx context.Context, _ *transaction.Context) error {
//	        // Same transaction, no commit here.
//	        return m.Conn(ctx).Exec(ctx, query, args, nil)
//	    })
//	})
package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

type ctxKey struct{}

// Manager starts transactions on a driver.
type Manager struct {
	drv     *sql.Driver
	querier dialect.ExecQuerier
	log     *zap.Logger
	txOpts  *sql.TxOptions
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger of the manager.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithQuerier sets the ExecQuerier returned by Conn outside of transactions,
// for example a StatsDriver wrapping the driver.
func WithQuerier(q dialect.ExecQuerier) Option {
	return func(m *Manager) {
		if q != nil {
			m.querier = q
		}
	}
}

// WithTxOptions sets the options of the transactions started by the manager.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(m *Manager) {
		m.txOpts = opts
	}
}

// NewManager returns a Manager starting transactions on drv.
func NewManager(drv *sql.Driver, opts ...Option) *Manager {
	m := &Manager{drv: drv, querier: drv, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dialect returns the dialect of the driver.
func (m *Manager) Dialect() dialect.Dialect { return m.drv.Dialect() }

// Conn returns the transaction active in ctx, or the default querier.
func (m *Manager) Conn(ctx context.Context) dialect.ExecQuerier {
	if st, ok := active(ctx); ok {
		return st.tx
	}
	return m.querier
}

// Run runs fn in a transaction. When ctx already carries a transaction, fn
// joins it and the outer caller keeps the commit decision. Otherwise a new
// transaction is committed when fn succeeds and rolled back when it fails
// or panics.
func (m *Manager) Run(ctx context.Context, fn func(context.Context, *Context) error) error {
	if st, ok := active(ctx); ok {
		return fn(ctx, &Context{state: st, ctx: ctx})
	}
	tc, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			if rerr := tc.Rollback(); rerr != nil {
				m.log.Error("Failed to roll back transaction after panic", zap.String("tx", tc.ID()), zap.Error(rerr))
			}
			panic(v)
		}
	}()
	if err := fn(tc.ctx, tc); err != nil {
		if rerr := tc.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	return tc.Commit()
}

// Begin starts a transaction controlled by the caller. Inside an active
// transaction it returns a handle joining it, whose Commit and Rollback do
// nothing.
func (m *Manager) Begin(ctx context.Context) (*Context, error) {
	if st, ok := active(ctx); ok {
		return &Context{state: st, ctx: ctx}, nil
	}
	return m.begin(ctx)
}

func (m *Manager) begin(ctx context.Context) (*Context, error) {
	tx, err := m.drv.BeginTx(ctx, m.txOpts)
	if err != nil {
		return nil, fmt.Errorf("transaction: begin: %w", err)
	}
	st := &state{
		id:     uuid.NewString(),
		tx:     tx,
		parent: ctx,
		log:    m.log,
	}
	m.log.Debug("Transaction started", zap.String("tx", st.id))
	return &Context{state: st, ctx: context.WithValue(ctx, ctxKey{}, st), outermost: true}, nil
}

// FromContext returns the transaction active in ctx. A committed or rolled
// back transaction is no longer active.
func FromContext(ctx context.Context) (*Context, bool) {
	st, ok := active(ctx)
	if !ok {
		return nil, false
	}
	return &Context{state: st, ctx: ctx}, true
}

func active(ctx context.Context) (*state, bool) {
	st, ok := ctx.Value(ctxKey{}).(*state)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st, !st.done
}

// state is shared by every Context joining one transaction.
type state struct {
	id     string
	tx     *sql.Tx
	parent context.Context
	log    *zap.Logger

	mu         sync.Mutex
	done       bool
	onCommit   []func(context.Context)
	onRollback []func(context.Context)
}

// finish commits or rolls back once and then runs the matching hooks with
// the context the transaction was started from.
func (s *state) finish(commit bool) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	hooks := s.onRollback
	if commit {
		hooks = s.onCommit
	}
	s.mu.Unlock()

	op, end, msg := "rollback", s.tx.Rollback, "Transaction rolled back"
	if commit {
		op, end, msg = "commit", s.tx.Commit, "Transaction committed"
	}
	if err := end(); err != nil {
		return fmt.Errorf("transaction: %s: %w", op, err)
	}
	s.log.Debug(msg, zap.String("tx", s.id))
	for _, h := range hooks {
		h(s.parent)
	}
	return nil
}

// Context is a handle on a transaction. The handle of the outermost call
// finalizes it; handles of nested calls only share it.
type Context struct {
	*state
	ctx       context.Context
	outermost bool
}

// ID returns the identifier of the transaction, shared by nested handles.
func (c *Context) ID() string { return c.id }

// Tx returns the transaction.
func (c *Context) Tx() *sql.Tx { return c.tx }

// Get returns the underlying database/sql transaction.
func (c *Context) Get() *sql.Tx { return c.tx }

// Context returns a context carrying the transaction.
func (c *Context) Context() context.Context { return c.ctx }

// Commit commits the transaction. It is a no-op for nested handles and for
// a transaction that is already finished.
func (c *Context) Commit() error {
	if !c.outermost {
		return nil
	}
	return c.finish(true)
}

// Rollback rolls the transaction back. It is a no-op for nested handles and
// for a transaction that is already finished.
func (c *Context) Rollback() error {
	if !c.outermost {
		return nil
	}
	return c.finish(false)
}

// OnCommit registers fn to run after the outermost transaction commits.
func (c *Context) OnCommit(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = append(c.onCommit, fn)
}

// OnRollback registers fn to run after the outermost transaction rolls back.
func (c *Context) OnRollback(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRollback = append(c.onRollback, fn)
}
