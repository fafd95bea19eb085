package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/syssam/quarry/dialect"
)

// Driver is a dialect.ExecQuerier implementation over a database/sql pool.
type Driver struct {
	Conn
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(d dialect.Dialect, db *sql.DB) *Driver {
	return &Driver{Conn: NewConn(d, db)}
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (*Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, d.dialect.TransformError(err)
	}
	return &Tx{
		Conn: NewConn(d.dialect, tx),
		Tx:   tx,
	}, nil
}

// Close closes the underlying connection pool.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a transaction bound to a dialect.
type Tx struct {
	Conn
	driver.Tx
}

// SQLTx returns the underlying *sql.Tx.
func (tx *Tx) SQLTx() *sql.Tx {
	return tx.ExecQuerier.(*sql.Tx)
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier. Driver errors are
// translated by the dialect.
type Conn struct {
	ExecQuerier
	dialect dialect.Dialect
}

// NewConn returns a Conn executing statements on ex.
func NewConn(d dialect.Dialect, ex ExecQuerier) Conn {
	return Conn{ExecQuerier: ex, dialect: d}
}

// Dialect returns the dialect of the connection.
func (c Conn) Dialect() dialect.Dialect { return c.dialect }

// Builder returns a statement builder for the dialect of the connection.
func (c Conn) Builder() *DialectBuilder { return Dialect(c.dialect.Name()) }

// Exec implements the dialect.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", c.dialect.TransformError(err))
		}
	case *sql.Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", c.dialect.TransformError(err))
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", c.dialect.TransformError(err))
	}
	*vr = Rows{rows}
	return nil
}

var (
	_ dialect.ExecQuerier = (*Driver)(nil)
	_ dialect.ExecQuerier = (*Tx)(nil)
)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// Close closes the rows. It is a no-op for rows that were never queried.
func (r *Rows) Close() error {
	if r.ColumnScanner == nil {
		return nil
	}
	return r.ColumnScanner.Close()
}

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// ScanInts scans a single integer column of all rows and closes them.
func ScanInts(rows *Rows) (vs []int64, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}

// ScanStrings scans a single nullable string column of all rows and closes
// them. NULL values are skipped.
func ScanStrings(rows *Rows) (vs []string, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	for rows.Next() {
		var v NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			vs = append(vs, v.String)
		}
	}
	return vs, rows.Err()
}

// RowsAffected returns the number of rows affected by an exec result.
func RowsAffected(res Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: rows affected: %w", err)
	}
	return int(n), nil
}
