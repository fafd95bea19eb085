package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"slices"
	"strings"

	// Registers the "pgx" driver, preferred over lib/pq for Postgres and CockroachDB.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/syssam/quarry/dialect"
)

// driverCandidates lists the database/sql driver names tried for each
// dialect, in order of preference.
var driverCandidates = map[string][]string{
	dialect.SQLite:      {"sqlite", "sqlite3", "libsql"},
	dialect.MySQL:       {"mysql"},
	dialect.Postgres:    {"pgx", "postgres"},
	dialect.CockroachDB: {"pgx", "postgres"},
}

// DriverName returns the registered database/sql driver used for the dialect.
// A non-empty override must name a registered driver.
func DriverName(name, override string) (string, error) {
	registered := sql.Drivers()
	if override != "" {
		if !slices.Contains(registered, override) {
			return "", fmt.Errorf("dialect/sql: driver %q is not registered", override)
		}
		return override, nil
	}
	for _, c := range driverCandidates[name] {
		if slices.Contains(registered, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("dialect/sql: no driver registered for %s (tried %s)",
		name, strings.Join(driverCandidates[name], ", "))
}

// Open configures the connection with the dialect, resolves the driver and
// opens a pool in which every new physical connection is initialized by
// Dialect.Initialize before use.
func Open(d dialect.Dialect, conn dialect.Connection) (*Driver, error) {
	if err := d.Configure(&conn); err != nil {
		return nil, err
	}
	name, err := DriverName(d.Name(), conn.Driver)
	if err != nil {
		return nil, err
	}
	c, err := connector(name, conn.DSN)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(&initConnector{Connector: c, init: d.Initialize})
	if p := conn.Pool; p.Max > 0 {
		db.SetMaxOpenConns(p.Max)
	}
	if p := conn.Pool; p.Min > 0 {
		db.SetMaxIdleConns(p.Min)
	}
	if p := conn.Pool; p.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(p.IdleTimeout)
	}
	if p := conn.Pool; p.MaxLifetime > 0 {
		db.SetConnMaxLifetime(p.MaxLifetime)
	}
	return OpenDB(d, db), nil
}

// connector returns a driver.Connector for the registered driver name.
func connector(name, dsn string) (driver.Connector, error) {
	// sql.Open does not connect; it is the only way to look a driver up by name.
	probe, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	drv := probe.Driver()
	if err := probe.Close(); err != nil {
		return nil, err
	}
	if dc, ok := drv.(driver.DriverContext); ok {
		return dc.OpenConnector(dsn)
	}
	return dsnConnector{dsn: dsn, driver: drv}, nil
}

// dsnConnector is a driver.Connector for drivers without DriverContext.
type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }

func (c dsnConnector) Driver() driver.Driver { return c.driver }

// initConnector runs init on every connection it opens.
type initConnector struct {
	driver.Connector
	init func(context.Context, dialect.Execer) error
}

// Connect opens a connection and initializes it.
func (c *initConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.init(ctx, connExecer{conn}); err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return conn, nil
}

// connExecer adapts a driver.Conn to dialect.Execer.
type connExecer struct {
	driver.Conn
}

// ExecContext executes query on the raw connection.
func (c connExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	if ex, ok := c.Conn.(driver.ExecerContext); ok {
		res, err := ex.ExecContext(ctx, query, named)
		if !errors.Is(err, driver.ErrSkip) {
			return res, err
		}
	}
	var (
		stmt driver.Stmt
		err  error
	)
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	sc, ok := stmt.(driver.StmtExecContext)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: driver statement %T does not support ExecContext", stmt)
	}
	return sc.ExecContext(ctx, named)
}
