package dialect

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/syssam/quarry"
)

// postgresDialect implements Dialect for Postgres.
type postgresDialect struct {
	base
	name        string
	defaultPort int
	schema      string
}

func newPostgres(b base) *postgresDialect {
	return &postgresDialect{base: b, name: Postgres, defaultPort: 5432}
}

func (d *postgresDialect) Name() string { return d.name }

// Configure builds a postgres:// URL understood by both pgx and lib/pq and
// remembers the schema used by Initialize.
func (d *postgresDialect) Configure(c *Connection) error {
	d.schema = c.Schema
	if c.DSN != "" {
		return nil
	}
	host, port := c.Host, c.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = d.defaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	for k, v := range c.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	c.DSN = u.String()
	return nil
}

// Initialize points the search path of the connection to the configured schema.
func (d *postgresDialect) Initialize(ctx context.Context, conn Execer) error {
	if d.schema != "" {
		d.execOptional(ctx, conn, "SET search_path TO "+pq.QuoteIdentifier(d.schema))
	}
	return nil
}

func (*postgresDialect) SQLType(t string) string {
	if t == "timestamp" {
		return "datetime"
	}
	return t
}

func (*postgresDialect) UsesForeignKeys() bool { return true }

func (*postgresDialect) UseReturning() bool { return true }

// Schema returns the schema of the last connection passed to Configure.
// It is empty until Configure runs.
func (d *postgresDialect) Schema() string { return d.schema }

func (*postgresDialect) TransformError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := asError[*pgconn.PgError](err); ok && e.Code == pgNotNullViolation {
		return quarry.NewNotNullError(e.ColumnName, err)
	}
	if e, ok := asError[*pq.Error](err); ok && string(e.Code) == pgNotNullViolation {
		return quarry.NewNotNullError(e.Column, err)
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgNotNullViolation {
		return quarry.NewNotNullError(submatch(pgNullColumnRe, err.Error()), err)
	}
	return wrapError(err)
}
