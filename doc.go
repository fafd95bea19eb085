// Package quarry is the database core of a content platform: dialect
// abstraction over SQLite, MySQL/MariaDB, Postgres and CockroachDB, schema
// inspection, context scoped transactions and maintenance operations that
// repair relation data in place.
//
// The root package holds the error taxonomy shared by every layer:
//
//	err := drv.Exec(ctx, query, args, nil)
//	if quarry.IsNotNullError(err) {
//	    var nn *quarry.NotNullError
//	    errors.As(err, &nn)
//	    log.Printf("missing value for %s", nn.Column)
//	}
//
// Subpackages:
//
//   - dialect: backend selection, capability flags and error translation
//   - dialect/sql: connection factory, driver wrappers and a small query builder
//   - dialect/sql/schema: live schema inspection and snapshot comparison
//   - transaction: nested, context scoped unit of work
//   - metadata: model and relation descriptors
//   - repair: ghost relation and orphan morph type cleanup
//   - database: the facade composing all of the above
package quarry
