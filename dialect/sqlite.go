package dialect

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/quarry"
)

// sqliteDialect implements Dialect for SQLite.
type sqliteDialect struct {
	base
}

func (sqliteDialect) Name() string { return SQLite }

// Configure resolves the database file to an absolute path and creates its
// directory. In-memory databases are left untouched.
func (sqliteDialect) Configure(c *Connection) error {
	if c.DSN != "" {
		return nil
	}
	if c.Filename == "" {
		return fmt.Errorf("dialect/sqlite: filename is required")
	}
	if !c.InMemory() {
		abs, err := filepath.Abs(c.Filename)
		if err != nil {
			return fmt.Errorf("dialect/sqlite: resolve filename: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("dialect/sqlite: create database directory: %w", err)
		}
		c.Filename = abs
	}
	c.DSN = c.Filename
	if len(c.Options) > 0 {
		v := url.Values{}
		for k, o := range c.Options {
			v.Add(k, o)
		}
		sep := "?"
		if strings.Contains(c.DSN, "?") {
			sep = "&"
		}
		c.DSN += sep + v.Encode()
	}
	return nil
}

func (sqliteDialect) Initialize(ctx context.Context, conn Execer) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("dialect/sqlite: enable foreign keys: %w", err)
	}
	return nil
}

func (sqliteDialect) SQLType(t string) string {
	if t == "enum" {
		return "text"
	}
	return t
}

func (sqliteDialect) UseReturning() bool { return true }

func (sqliteDialect) CanAlterConstraints() bool { return false }

func (sqliteDialect) CanAddIncrements() bool { return false }

func (sqliteDialect) SupportsOperator(op string) bool {
	return op != "$jsonSupersetOf"
}

func (sqliteDialect) StartSchemaUpdate(ctx context.Context, conn Execer) error {
	_, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
	return err
}

func (sqliteDialect) EndSchemaUpdate(ctx context.Context, conn Execer) error {
	_, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	return err
}

func (sqliteDialect) TransformError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := asError[*sqlite.Error](err); ok && e.Code() == sqlite3.SQLITE_CONSTRAINT_NOTNULL {
		return quarry.NewNotNullError(lastIdent(submatch(sqliteNullColumnRe, e.Error())), err)
	}
	if col := submatch(sqliteNullColumnRe, err.Error()); col != "" {
		return quarry.NewNotNullError(lastIdent(col), err)
	}
	return wrapError(err)
}
