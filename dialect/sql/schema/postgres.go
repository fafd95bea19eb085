package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/postgres"
	atlas "ariga.io/atlas/sql/schema"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

// pgsql inspects Postgres and CockroachDB through the atlas drivers. Table
// listing and existence checks use information_schema directly.
type pgsql struct {
	conn   sql.Conn
	db     ExecQuerier
	schema string

	mu  sync.Mutex
	drv migrate.Driver
}

func newPostgres(d dialect.Dialect, db ExecQuerier, schema string) *pgsql {
	p := &pgsql{conn: sql.NewConn(d, db), db: db, schema: schema}
	if s, ok := d.(interface{ Schema() string }); ok && schema == "" {
		p.schema = s.Schema()
	}
	return p
}

// currentSchema selects the configured schema or the one of the session.
const currentSchema = "COALESCE(NULLIF($1, ''), current_schema())"

// driver opens the atlas driver on first use. Opening queries the server
// version, so it is deferred until a schema is actually read.
func (p *pgsql) driver() (migrate.Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drv != nil {
		return p.drv, nil
	}
	drv, err := postgres.Open(p.db)
	if err != nil {
		return nil, fmt.Errorf("schema: open atlas driver: %w", err)
	}
	p.drv = drv
	return drv, nil
}

func (p *pgsql) inspect(ctx context.Context, opts *atlas.InspectOptions) (*atlas.Schema, error) {
	drv, err := p.driver()
	if err != nil {
		return nil, err
	}
	s, err := drv.InspectSchema(ctx, p.schema, opts)
	if err != nil {
		return nil, fmt.Errorf("schema: inspect: %w", err)
	}
	return s, nil
}

func (p *pgsql) readSchema(ctx context.Context) (*Schema, error) {
	s, err := p.inspect(ctx, nil)
	if err != nil {
		return nil, err
	}
	return fromAtlas(s), nil
}

func (p *pgsql) table(ctx context.Context, name string) (*Table, error) {
	s, err := p.inspect(ctx, &atlas.InspectOptions{Tables: []string{name}})
	if err != nil {
		return nil, err
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return tableFromAtlas(t), nil
		}
	}
	return nil, fmt.Errorf("schema: table %q does not exist", name)
}

func (p *pgsql) GetTables(ctx context.Context) ([]string, error) {
	rows := &sql.Rows{}
	query := "SELECT table_name FROM information_schema.tables WHERE table_schema = " + currentSchema +
		" AND table_type = 'BASE TABLE' ORDER BY table_name"
	if err := p.conn.Query(ctx, query, []any{p.schema}, rows); err != nil {
		return nil, err
	}
	return sql.ScanStrings(rows)
}

func (p *pgsql) GetColumns(ctx context.Context, table string) ([]*Column, error) {
	t, err := p.table(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.Columns, nil
}

func (p *pgsql) GetIndexes(ctx context.Context, table string) ([]*Index, error) {
	t, err := p.table(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.Indexes, nil
}

func (p *pgsql) GetForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	t, err := p.table(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.ForeignKeys, nil
}

func (p *pgsql) HasTable(ctx context.Context, table string) (bool, error) {
	rows := &sql.Rows{}
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = " + currentSchema + " AND table_name = $2"
	if err := p.conn.Query(ctx, query, []any{p.schema, table}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}

func (p *pgsql) HasColumn(ctx context.Context, table, column string) (bool, error) {
	rows := &sql.Rows{}
	query := "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = " + currentSchema +
		" AND table_name = $2 AND column_name = $3"
	if err := p.conn.Query(ctx, query, []any{p.schema, table, column}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}

// fromAtlas converts an atlas schema to a snapshot sorted by table name.
func fromAtlas(s *atlas.Schema) *Schema {
	out := &Schema{Tables: make([]*Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, tableFromAtlas(t))
	}
	slices.SortFunc(out.Tables, func(a, b *Table) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func tableFromAtlas(t *atlas.Table) *Table {
	out := &Table{Name: t.Name}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, columnFromAtlas(c))
	}
	var ib indexBuilder
	for _, idx := range t.Indexes {
		if t.PrimaryKey != nil && idx.Name == t.PrimaryKey.Name {
			continue
		}
		for _, part := range idx.Parts {
			if part.C != nil {
				ib.add(idx.Name, part.C.Name, idx.Unique)
			}
		}
	}
	out.Indexes = ib.indexes
	var fb fkBuilder
	for _, fk := range t.ForeignKeys {
		ref := ""
		if fk.RefTable != nil {
			ref = fk.RefTable.Name
		}
		for i, c := range fk.Columns {
			refColumn := ""
			if i < len(fk.RefColumns) {
				refColumn = fk.RefColumns[i].Name
			}
			fb.add(fk.Symbol, c.Name, ref, refColumn, string(fk.OnUpdate), string(fk.OnDelete))
		}
	}
	out.ForeignKeys = fb.keys
	return out
}

func columnFromAtlas(c *atlas.Column) *Column {
	out := &Column{Name: c.Name}
	if c.Type != nil {
		out.NotNullable = !c.Type.Null
	}
	switch d := c.Default.(type) {
	case *atlas.Literal:
		v := d.V
		out.DefaultTo = &v
	case *atlas.RawExpr:
		v := d.X
		out.DefaultTo = &v
	}
	out.Type, out.Args = pgType(c, out.DefaultTo)
	return out
}

func pgType(c *atlas.Column, dflt *string) (string, []any) {
	if c.Type == nil {
		return specific("")
	}
	raw := c.Type.Raw
	switch t := c.Type.Type.(type) {
	case *postgres.SerialType:
		return TypeIncrements, nil
	case *atlas.IntegerType:
		if identity(c) || (dflt != nil && strings.HasPrefix(*dflt, "nextval")) {
			return TypeIncrements, nil
		}
		if t.T == "bigint" || t.T == "int8" {
			return TypeBigInteger, nil
		}
		return TypeInteger, nil
	case *atlas.StringType:
		if rootType(t.T) == "text" {
			return TypeText, []any{"longtext"}
		}
		return TypeString, []any{t.Size}
	case *atlas.BoolType:
		return TypeBoolean, nil
	case *atlas.TimeType:
		switch rootType(t.T) {
		case "timestamp", "timestamptz":
			return TypeDateTime, nil
		case "date":
			return TypeDate, nil
		case "time", "timetz":
			return TypeTime, nil
		}
	case *atlas.DecimalType:
		return TypeDecimal, []any{10, 2}
	case *atlas.FloatType:
		return TypeFloat, nil
	case *atlas.JSONType:
		if t.T == "json" {
			return TypeJSON, nil
		}
		return TypeJSONB, nil
	}
	return specific(raw)
}

func identity(c *atlas.Column) bool {
	for _, a := range c.Attrs {
		if _, ok := a.(*postgres.Identity); ok {
			return true
		}
	}
	return false
}
