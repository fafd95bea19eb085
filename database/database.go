// Package database composes the dialect, the connection pool, the
// transaction manager, the schema inspector and the repair operations into
// one handle.
//
//	db, err := database.New(ctx, database.Config{
//	    Connection: dialect.Connection{Client: "sqlite", Filename: "data/app.db"},
//	}, database.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer db.Destroy(ctx)
//	if err := db.Init(ctx, registry); err != nil {
//	    return err
//	}
package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/schema"
	"github.com/syssam/quarry/metadata"
	"github.com/syssam/quarry/repair"
	"github.com/syssam/quarry/transaction"
)

// ErrNotInitialized is returned by operations requiring model metadata
// before Init was called.
var ErrNotInitialized = errors.New("database: not initialized")

// Database is the entry point of the database layer.
type Database struct {
	cfg     Config
	dialect dialect.Dialect
	drv     *sql.Driver
	stats   *sql.StatsDriver
	tm      *transaction.Manager
	insp    schema.Inspector
	schema  string
	log     *zap.Logger
	metrics prometheus.Registerer

	mu        sync.Mutex
	reg       *metadata.Registry
	repairer  *repair.Repairer
	onDestroy []func(context.Context) error
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger of the database and of its components.
func WithLogger(l *zap.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.log = l
		}
	}
}

// WithMetrics registers the repair metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(db *Database) { db.metrics = reg }
}

// New opens a database. The client identifier of the connection selects the
// dialect; an unknown identifier fails. The pool is pinged before New
// returns, with Settings.PingRetries retries and exponential backoff.
func New(ctx context.Context, cfg Config, opts ...Option) (*Database, error) {
	db := &Database{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(db)
	}
	d, err := dialect.New(cfg.Connection.Client, dialect.WithLogger(db.log))
	if err != nil {
		return nil, err
	}
	db.dialect = d
	conn := cfg.Connection
	// Session settings of SQLite, such as foreign key enforcement toggled
	// around migrations, hold for one connection only.
	if d.Name() == dialect.SQLite && conn.Pool.Max == 0 {
		conn.Pool.Max = 1
	}
	if db.drv, err = sql.Open(d, conn); err != nil {
		return nil, err
	}
	if err := ping(ctx, db.drv.DB(), cfg.Settings.PingRetries, db.log); err != nil {
		return nil, errors.Join(fmt.Errorf("database: ping: %w", d.TransformError(err)), db.drv.Close())
	}
	if name := d.Name(); name == dialect.Postgres || name == dialect.CockroachDB {
		db.schema = cfg.Connection.Schema
	}
	statsOpts := []sql.StatsOption{sql.WithSlowQueryLog(db.log)}
	if t := cfg.Settings.SlowQueryThreshold; t > 0 {
		statsOpts = append(statsOpts, sql.WithSlowThreshold(t))
	}
	db.stats = sql.NewStatsDriver(db.drv, statsOpts...)
	db.tm = transaction.NewManager(db.drv,
		transaction.WithLogger(db.log),
		transaction.WithQuerier(db.stats),
	)
	if db.insp, err = schema.NewInspector(d, db.drv.DB(),
		schema.WithConcurrency(cfg.Settings.InspectConcurrency),
		schema.WithSchema(db.schema),
	); err != nil {
		return nil, errors.Join(err, db.drv.Close())
	}
	db.log.Debug("Database connected", zap.String("dialect", d.Name()))
	return db, nil
}

func ping(ctx context.Context, db *stdsql.DB, retries int, log *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retries, 0))), ctx)
	return backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, policy, func(err error, next time.Duration) {
		log.Warn("Database not reachable, retrying", zap.Error(err), zap.Duration("backoff", next))
	})
}

// Dialect returns the dialect of the database.
func (db *Database) Dialect() dialect.Dialect { return db.dialect }

// Inspector returns the schema inspector of the database.
func (db *Database) Inspector() schema.Inspector { return db.insp }

// Stats returns the statement statistics of the database.
func (db *Database) Stats() sql.StatsSnapshot { return db.stats.QueryStats().Stats() }

// Metadata returns the registry passed to Init, or nil before Init.
func (db *Database) Metadata() *metadata.Registry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.reg
}

// Repair returns the repair operations over the registry passed to Init,
// or nil before Init.
func (db *Database) Repair() *repair.Repairer {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.repairer
}

// Query returns a selector over the table of the model uid.
func (db *Database) Query(uid string) (*sql.Selector, error) {
	reg := db.Metadata()
	if reg == nil {
		return nil, ErrNotInitialized
	}
	m, err := reg.Get(uid)
	if err != nil {
		return nil, err
	}
	return sql.Dialect(db.dialect.Name()).
		Select().
		From(sql.Table(m.TableName).Schema(db.schema)), nil
}

// Table returns the name of a table qualified by the configured schema.
func (db *Database) Table(name string) string {
	if db.schema == "" {
		return name
	}
	return db.schema + "." + name
}

// Conn returns the transaction active in ctx, or the connection pool.
func (db *Database) Conn(ctx context.Context) dialect.ExecQuerier { return db.tm.Conn(ctx) }

// Transaction runs fn in a transaction, joining the one active in ctx.
func (db *Database) Transaction(ctx context.Context, fn func(context.Context, *transaction.Context) error) error {
	return db.tm.Run(ctx, fn)
}

// Begin starts a transaction controlled by the caller.
func (db *Database) Begin(ctx context.Context) (*transaction.Context, error) {
	return db.tm.Begin(ctx)
}

// OnDestroy registers fn to run when the database is destroyed. Hooks run
// in reverse registration order.
func (db *Database) OnDestroy(fn func(context.Context) error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.onDestroy = append(db.onDestroy, fn)
}

// Destroy runs the destroy hooks and closes the connection pool. Every hook
// runs; their errors are joined.
func (db *Database) Destroy(ctx context.Context) error {
	db.mu.Lock()
	hooks := slices.Clone(db.onDestroy)
	db.onDestroy = nil
	db.mu.Unlock()

	var errs []error
	for _, fn := range slices.Backward(hooks) {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := db.drv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: close: %w", err))
	}
	db.log.Debug("Database destroyed", zap.Stringer("stats", db.Stats()))
	return errors.Join(errs...)
}
