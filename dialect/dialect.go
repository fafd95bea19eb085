package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/quarry"
)

// Dialect names for external usage.
const (
	SQLite      = "sqlite"
	MySQL       = "mysql"
	Postgres    = "postgres"
	CockroachDB = "cockroachdb"
)

// ErrUnknownDialect is returned by New for an unsupported client identifier.
var ErrUnknownDialect = errors.New("dialect: unknown database client")

// aliases maps every accepted client identifier to its dialect name.
var aliases = map[string]string{
	"sqlite":         SQLite,
	"sqlite3":        SQLite,
	"better-sqlite3": SQLite,
	"mysql":          MySQL,
	"mysql2":         MySQL,
	"mariadb":        MySQL,
	"postgres":       Postgres,
	"postgresql":     Postgres,
	"pg":             Postgres,
	"cockroachdb":    CockroachDB,
	"cockroach":      CockroachDB,
	"crdb":           CockroachDB,
}

// Execer wraps the ExecContext method. It is implemented by *sql.DB,
// *sql.Conn, *sql.Tx and the per-connection adapter of the connection factory.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ExecQuerier wraps the two database operations used by the query builder
// consumers. args must be a []any and v a *sql.Result (or nil) for Exec and
// a *sql.Rows for Query.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Dialect abstracts the behavior that differs between database backends.
type Dialect interface {
	// Name returns the canonical dialect name (one of the constants above).
	Name() string

	// Configure adjusts the connection configuration before the pool is
	// created. It fills Connection.DSN when it is empty.
	Configure(*Connection) error

	// Initialize runs once for every physical connection opened by the pool.
	// Failures of optional session settings are logged and ignored.
	Initialize(context.Context, Execer) error

	// SQLType maps an abstract column type to the backend column type.
	SQLType(string) string

	UsesForeignKeys() bool
	UseReturning() bool
	SupportsUnsigned() bool
	CanAlterConstraints() bool
	CanAddIncrements() bool

	// SupportsOperator reports if a query filter operator can be used as is.
	SupportsOperator(string) bool

	// StartSchemaUpdate and EndSchemaUpdate bracket a schema migration and
	// must be called in pairs on the same connection.
	StartSchemaUpdate(context.Context, Execer) error
	EndSchemaUpdate(context.Context, Execer) error

	// TransformError translates a driver error into the quarry error
	// taxonomy. It returns nil only for a nil error.
	TransformError(error) error
}

// Option configures a Dialect.
type Option func(*base)

// WithLogger sets the logger used for swallowed session setup failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

// Resolve returns the dialect name of a client identifier such as "pg" or "mysql2".
func Resolve(client string) (string, error) {
	name, ok := aliases[strings.ToLower(strings.TrimSpace(client))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, client)
	}
	return name, nil
}

// New returns the Dialect for the given client identifier.
func New(client string, opts ...Option) (Dialect, error) {
	name, err := Resolve(client)
	if err != nil {
		return nil, err
	}
	b := base{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.With(zap.String("dialect", name))
	switch name {
	case SQLite:
		return &sqliteDialect{base: b}, nil
	case MySQL:
		return &mysqlDialect{base: b}, nil
	case Postgres:
		return newPostgres(b), nil
	default:
		return newCockroach(b), nil
	}
}

// base holds the default behavior shared by all dialects.
type base struct {
	log *zap.Logger
}

func (base) Configure(*Connection) error { return nil }
func (base) Initialize(context.Context, Execer) error { return nil }
func (base) SQLType(t string) string { return t }
func (base) UsesForeignKeys() bool { return false }
func (base) UseReturning() bool { return false }
func (base) SupportsUnsigned() bool { return false }
func (base) CanAlterConstraints() bool { return true }
func (base) CanAddIncrements() bool { return true }
func (base) SupportsOperator(string) bool { return true }
func (base) StartSchemaUpdate(context.Context, Execer) error { return nil }
func (base) EndSchemaUpdate(context.Context, Execer) error { return nil }
func (base) TransformError(err error) error { return wrapError(err) }

// execOptional runs a session statement whose failure is not fatal.
func (b base) execOptional(ctx context.Context, conn Execer, query string) {
	if _, err := conn.ExecContext(ctx, query); err != nil {
		b.log.Debug("Ignoring session setup failure", zap.String("query", query), zap.Error(err))
	}
}

// wrapError wraps err in a DatabaseError unless it already belongs to the taxonomy.
func wrapError(err error) error {
	if err == nil || errors.Is(err, quarry.ErrDatabase) {
		return err
	}
	return quarry.NewDatabaseError("", err)
}
