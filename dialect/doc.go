// Package dialect provides the database dialect abstraction of quarry.
//
// A Dialect hides the behavior that differs between the supported backends:
// connection configuration, per-connection session setup, column type
// mapping, capability flags used by migration generation, foreign key
// toggling around schema changes, and translation of driver errors into the
// quarry error taxonomy.
//
// # Supported Dialects
//
//   - SQLite (client identifiers: sqlite, sqlite3, better-sqlite3)
//   - MySQL and MariaDB (mysql, mysql2, mariadb)
//   - Postgres (postgres, postgresql, pg)
//   - CockroachDB (cockroachdb, cockroach, crdb)
//
// # Capability Matrix
//
//	capability           SQLite  MySQL  Postgres  CockroachDB
//	UseReturning         true    false  true      true
//	UsesForeignKeys      false   true   true      true
//	SupportsUnsigned     false   true   false     false
//	CanAlterConstraints  false   true   true      true
//	CanAddIncrements     false   true   true      true
//
// # Usage
//
//	d, err := dialect.New("pg", dialect.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err) // unknown client identifier
//	}
//	conn := dialect.Connection{Host: "db", Database: "app", Schema: "content"}
//	if err := d.Configure(&conn); err != nil {
//	    log.Fatal(err)
//	}
//	// conn.DSN is ready for the connection factory in dialect/sql.
package dialect
