// Package sql provides the connection layer of quarry on top of database/sql.
//
// # Connection Factory
//
// Open configures a dialect.Connection, resolves which registered
// database/sql driver serves the dialect and opens a pool. Every physical
// connection of the pool is initialized by Dialect.Initialize before it is
// handed out:
//
//	d, _ := dialect.New("sqlite")
//	drv, err := sql.Open(d, dialect.Connection{Filename: ".tmp/data.db"})
//
// Driver names are tried in order of preference:
//
//   - SQLite: sqlite (modernc.org/sqlite), sqlite3, libsql
//   - MySQL: mysql
//   - Postgres and CockroachDB: pgx, postgres (lib/pq)
//
// # Statement Builders
//
// The builders cover the statements issued by the maintenance operations and
// the schema snapshot storage:
//
//	t := sql.Table("articles_tags_lnk").As("j")
//	tags := sql.Table("tags").As("t")
//	query, args := sql.Dialect(dialect.Postgres).
//	    Select(sql.As(t.C("id"), "join_id"), sql.As(tags.C("published_at"), "target_published_at")).
//	    From(t).
//	    LeftJoin(tags).On(t.C("tag_id"), tags.C("id")).
//	    Where(sql.IsNull(tags.C("published_at"))).
//	    Query()
//
// Predicates:
//
//	sql.EQ("document_id", "doc-1")    // `document_id` = ?
//	sql.In("id", 1, 2, 3)             // `id` IN (?, ?, ?)
//	sql.NotNull("published_at")       // `published_at` IS NOT NULL
//	sql.And(p1, sql.Or(p2, p3))       // (p1 AND (p2 OR p3))
//
// # Executing
//
// Driver, Tx, StatsDriver and DebugDriver implement dialect.ExecQuerier:
//
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, query, args, rows); err != nil {
//	    return err
//	}
//	defer rows.Close()
package sql
