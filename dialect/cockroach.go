package dialect

// cockroachDialect implements Dialect for CockroachDB. It speaks the Postgres
// wire protocol and shares its capability flags.
type cockroachDialect struct {
	*postgresDialect
}

func newCockroach(b base) *cockroachDialect {
	return &cockroachDialect{
		postgresDialect: &postgresDialect{base: b, name: CockroachDB, defaultPort: 26257},
	}
}
