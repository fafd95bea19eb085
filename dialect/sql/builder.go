package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/quarry/dialect"
)

// Querier wraps the basic Query method implemented by all statement builders.
type Querier interface {
	Query() (string, []any)
}

// Builder is the base query builder. It writes SQL text, quotes identifiers
// and numbers placeholders for its dialect.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// postgresLike reports if the dialect uses Postgres quoting and placeholders.
func (b *Builder) postgresLike() bool {
	return b.dialect == dialect.Postgres || b.dialect == dialect.CockroachDB
}

// Quote quotes an identifier. Qualified identifiers, aliases ("x AS y") and
// ordering suffixes are quoted part by part. Expressions holding a
// parenthesis and "*" are returned unchanged.
func (b *Builder) Quote(ident string) string {
	switch {
	case ident == "*" || strings.ContainsRune(ident, '('):
		return ident
	case strings.Contains(ident, " AS "):
		i := strings.Index(ident, " AS ")
		return b.Quote(ident[:i]) + " AS " + b.Quote(ident[i+4:])
	case strings.HasSuffix(ident, " DESC"), strings.HasSuffix(ident, " ASC"):
		i := strings.LastIndexByte(ident, ' ')
		return b.Quote(ident[:i]) + ident[i:]
	case strings.ContainsRune(ident, '.'):
		parts := strings.Split(ident, ".")
		for i := range parts {
			parts[i] = b.Quote(parts[i])
		}
		return strings.Join(parts, ".")
	}
	q := "`"
	if b.postgresLike() {
		q = `"`
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Ident writes the quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// IdentComma writes the quoted identifiers separated by commas.
func (b *Builder) IdentComma(s ...string) *Builder {
	for i := range s {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(s[i])
	}
	return b
}

// WriteString writes s as is.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder for a and records it.
func (b *Builder) Arg(a any) *Builder {
	b.args = append(b.args, a)
	if b.postgresLike() {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Args writes comma separated placeholders.
func (b *Builder) Args(a ...any) *Builder {
	for i := range a {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(a[i])
	}
	return b
}

// String returns the SQL text written so far.
func (b *Builder) String() string { return b.sb.String() }

// Query returns the SQL text and its arguments.
func (b *Builder) Query() (string, []any) { return b.sb.String(), b.args }

// DialectBuilder prefixes all statements with a dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a new DialectBuilder with the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Quote quotes an identifier for the dialect.
func (d *DialectBuilder) Quote(ident string) string {
	b := &Builder{dialect: d.dialect}
	return b.Quote(ident)
}

// Select creates a Selector for the dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return &Selector{dialect: d.dialect, columns: columns}
}

// Delete creates a DeleteBuilder for the dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: d.dialect, table: table}
}

// Insert creates an InsertBuilder for the dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{dialect: d.dialect, table: table}
}

// Predicate writes a boolean condition into a Builder.
type Predicate func(*Builder)

// EQ returns a "col = v" predicate.
func EQ(col string, v any) Predicate { return compare(col, " = ", v) }

// NEQ returns a "col <> v" predicate.
func NEQ(col string, v any) Predicate { return compare(col, " <> ", v) }

// GT returns a "col > v" predicate.
func GT(col string, v any) Predicate { return compare(col, " > ", v) }

// LT returns a "col < v" predicate.
func LT(col string, v any) Predicate { return compare(col, " < ", v) }

func compare(col, op string, v any) Predicate {
	return func(b *Builder) {
		b.Ident(col).WriteString(op).Arg(v)
	}
}

// ColumnsEQ returns a "c1 = c2" predicate between two columns.
func ColumnsEQ(c1, c2 string) Predicate {
	return func(b *Builder) {
		b.Ident(c1).WriteString(" = ").Ident(c2)
	}
}

// IsNull returns a "col IS NULL" predicate.
func IsNull(col string) Predicate {
	return func(b *Builder) { b.Ident(col).WriteString(" IS NULL") }
}

// NotNull returns a "col IS NOT NULL" predicate.
func NotNull(col string) Predicate {
	return func(b *Builder) { b.Ident(col).WriteString(" IS NOT NULL") }
}

// In returns a "col IN (...)" predicate. An empty list never matches.
func In(col string, vs ...any) Predicate {
	return func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(vs...).WriteString(")")
	}
}

// NotIn returns a "col NOT IN (...)" predicate. An empty list always matches.
func NotIn(col string, vs ...any) Predicate {
	return func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.Ident(col).WriteString(" NOT IN (").Args(vs...).WriteString(")")
	}
}

// And joins the predicates with AND.
func And(ps ...Predicate) Predicate { return combine(" AND ", ps) }

// Or joins the predicates with OR.
func Or(ps ...Predicate) Predicate { return combine(" OR ", ps) }

// Not negates the predicate.
func Not(p Predicate) Predicate {
	return func(b *Builder) {
		b.WriteString("NOT (")
		p(b)
		b.WriteString(")")
	}
}

func combine(op string, ps []Predicate) Predicate {
	return func(b *Builder) {
		if len(ps) == 1 {
			ps[0](b)
			return
		}
		b.WriteString("(")
		for i, p := range ps {
			if i > 0 {
				b.WriteString(op)
			}
			p(b)
		}
		b.WriteString(")")
	}
}

// Count returns the COUNT aggregation of a column expression.
func Count(ident string) string { return "COUNT(" + ident + ")" }

// As returns an aliased column.
func As(ident, alias string) string { return ident + " AS " + alias }

// Desc returns a descending ordering term.
func Desc(ident string) string { return ident + " DESC" }

// SelectTable is a table reference in a SELECT or JOIN clause.
type SelectTable struct {
	name   string
	schema string
	as     string
}

// Table returns a new table reference.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// Schema sets the schema of the table.
func (t *SelectTable) Schema(name string) *SelectTable {
	t.schema = name
	return t
}

// As sets the alias of the table.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// C returns a column qualified by the table alias, or its name.
func (t *SelectTable) C(column string) string {
	name := t.name
	if t.as != "" {
		name = t.as
	}
	return name + "." + column
}

func (t *SelectTable) write(b *Builder) {
	if t.schema != "" {
		b.Ident(t.schema).WriteString(".")
	}
	b.Ident(t.name)
	if t.as != "" {
		b.WriteString(" AS ").Ident(t.as)
	}
}

type join struct {
	kind  string
	table *SelectTable
	on    Predicate
}

// Selector is a builder for SELECT statements.
type Selector struct {
	dialect  string
	columns  []string
	distinct bool
	from     *SelectTable
	joins    []join
	where    []Predicate
	order    []string
	limit    int
	offset   int
}

// Select returns a Selector without a dialect (MySQL style quoting).
func Select(columns ...string) *Selector {
	return &Selector{columns: columns}
}

// Select sets the columns of the statement.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = columns
	return s
}

// Distinct adds the DISTINCT keyword.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the source table.
func (s *Selector) From(t *SelectTable) *Selector {
	s.from = t
	return s
}

// Table returns the source table.
func (s *Selector) Table() *SelectTable { return s.from }

// C returns a column qualified by the source table.
func (s *Selector) C(column string) string { return s.from.C(column) }

// Join appends an INNER JOIN. The join condition is set by On.
func (s *Selector) Join(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: t})
	return s
}

// LeftJoin appends a LEFT JOIN. The join condition is set by On.
func (s *Selector) LeftJoin(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "LEFT JOIN", table: t})
	return s
}

// On sets the condition of the last join to c1 = c2.
func (s *Selector) On(c1, c2 string) *Selector {
	if n := len(s.joins); n > 0 {
		s.joins[n-1].on = ColumnsEQ(c1, c2)
	}
	return s
}

// Where adds a predicate. Multiple predicates are joined with AND.
func (s *Selector) Where(p Predicate) *Selector {
	s.where = append(s.where, p)
	return s
}

// OrderBy appends ordering terms.
func (s *Selector) OrderBy(columns ...string) *Selector {
	s.order = append(s.order, columns...)
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = n
	return s
}

// Query returns the statement and its arguments.
func (s *Selector) Query() (string, []any) {
	b := &Builder{dialect: s.dialect}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		b.IdentComma(s.columns...)
	}
	if s.from != nil {
		b.WriteString(" FROM ")
		s.from.write(b)
	}
	for _, j := range s.joins {
		b.WriteString(" " + j.kind + " ")
		j.table.write(b)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on(b)
		}
	}
	writeWhere(b, s.where)
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ").IdentComma(s.order...)
	}
	if s.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(s.limit))
	}
	if s.offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(s.offset))
	}
	return b.Query()
}

func writeWhere(b *Builder, ps []Predicate) {
	if len(ps) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	And(ps...)(b)
}

// DeleteBuilder is a builder for DELETE statements.
type DeleteBuilder struct {
	dialect string
	table   string
	schema  string
	where   []Predicate
}

// Delete returns a DeleteBuilder without a dialect.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Schema sets the schema of the table.
func (d *DeleteBuilder) Schema(name string) *DeleteBuilder {
	d.schema = name
	return d
}

// Where adds a predicate. Multiple predicates are joined with AND.
func (d *DeleteBuilder) Where(p Predicate) *DeleteBuilder {
	d.where = append(d.where, p)
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{dialect: d.dialect}
	b.WriteString("DELETE FROM ")
	Table(d.table).Schema(d.schema).write(b)
	writeWhere(b, d.where)
	return b.Query()
}

// InsertBuilder is a builder for single and multi row INSERT statements.
type InsertBuilder struct {
	dialect string
	table   string
	schema  string
	columns []string
	values  [][]any
}

// Insert returns an InsertBuilder without a dialect.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Schema sets the schema of the table.
func (i *InsertBuilder) Schema(name string) *InsertBuilder {
	i.schema = name
	return i
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = columns
	return i
}

// Values appends a row of values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{dialect: i.dialect}
	b.WriteString("INSERT INTO ")
	Table(i.table).Schema(i.schema).write(b)
	b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
	for j, row := range i.values {
		if j > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(").Args(row...).WriteString(")")
	}
	return b.Query()
}

var (
	_ Querier = (*Selector)(nil)
	_ Querier = (*DeleteBuilder)(nil)
	_ Querier = (*InsertBuilder)(nil)
)
