package dialect

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/quarry"
)

// mysqlDialect implements Dialect for MySQL and MariaDB.
type mysqlDialect struct {
	base
}

func (mysqlDialect) Name() string { return MySQL }

// Configure builds the DSN. Date columns are returned as raw values and
// every connection works in UTC.
func (mysqlDialect) Configure(c *Connection) error {
	if c.DSN != "" {
		return nil
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	host, port := c.Host, c.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = c.Database
	cfg.Collation = "utf8mb4_unicode_ci"
	cfg.ParseTime = false
	cfg.Loc = time.UTC
	if len(c.Options) > 0 {
		cfg.Params = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			cfg.Params[k] = v
		}
	}
	c.DSN = cfg.FormatDSN()
	return nil
}

// Initialize relaxes the primary key requirement of managed MySQL instances.
// Users without SYSTEM_VARIABLES_ADMIN cannot change it, which is ignored.
func (d mysqlDialect) Initialize(ctx context.Context, conn Execer) error {
	d.execOptional(ctx, conn, "SET SESSION sql_require_primary_key = 0")
	return nil
}

func (mysqlDialect) UsesForeignKeys() bool { return true }

func (mysqlDialect) SupportsUnsigned() bool { return true }

func (d mysqlDialect) StartSchemaUpdate(ctx context.Context, conn Execer) error {
	d.execOptional(ctx, conn, "SET foreign_key_checks = 0")
	return nil
}

func (d mysqlDialect) EndSchemaUpdate(ctx context.Context, conn Execer) error {
	d.execOptional(ctx, conn, "SET foreign_key_checks = 1")
	return nil
}

func (mysqlDialect) TransformError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := asError[*mysql.MySQLError](err); ok && e.Number == mysqlBadNullError {
		return quarry.NewNotNullError(submatch(mysqlNullColumnRe, e.Message), err)
	}
	return wrapError(err)
}
