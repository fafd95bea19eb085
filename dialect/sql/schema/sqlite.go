package schema

import (
	"context"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

// sqlite reads schemas through the pragma table-valued functions.
type sqlite struct {
	conn sql.Conn
}

func newSQLite(d dialect.Dialect, db ExecQuerier) *sqlite {
	return &sqlite{conn: sql.NewConn(d, db)}
}

func (s *sqlite) GetTables(ctx context.Context) ([]string, error) {
	rows := &sql.Rows{}
	query := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	if err := s.conn.Query(ctx, query, []any{}, rows); err != nil {
		return nil, err
	}
	return sql.ScanStrings(rows)
}

func (s *sqlite) GetColumns(ctx context.Context, table string) ([]*Column, error) {
	rows := &sql.Rows{}
	query := `SELECT "name", "type", "notnull", "dflt_value", "pk" FROM pragma_table_info(?) ORDER BY "cid"`
	if err := s.conn.Query(ctx, query, []any{table}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var columns []*Column
	for rows.Next() {
		var (
			c       Column
			raw     string
			notNull int
			pk      int
			dflt    sql.NullString
		)
		if err := rows.Scan(&c.Name, &raw, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		c.Type, c.Args = sqliteType(raw, pk > 0)
		c.NotNullable = notNull == 1
		if dflt.Valid {
			c.DefaultTo = &dflt.String
		}
		columns = append(columns, &c)
	}
	return columns, rows.Err()
}

func sqliteType(raw string, pk bool) (string, []any) {
	switch rootType(raw) {
	case "integer":
		if pk {
			return TypeIncrements, nil
		}
		return TypeInteger, nil
	case "float":
		return TypeFloat, []any{10, 2}
	case "bigint":
		return TypeBigInteger, nil
	case "varchar":
		return TypeString, []any{typeLength(raw)}
	case "text":
		return TypeText, []any{"longtext"}
	case "json":
		return TypeJSONB, nil
	case "boolean":
		return TypeBoolean, nil
	case "datetime":
		return TypeDateTime, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	}
	return specific(raw)
}

// GetIndexes lists the indexes first and reads their columns afterwards so
// that a single connection pool never holds two cursors.
func (s *sqlite) GetIndexes(ctx context.Context, table string) ([]*Index, error) {
	rows := &sql.Rows{}
	if err := s.conn.Query(ctx, "SELECT * FROM pragma_index_list(?)", []any{table}, rows); err != nil {
		return nil, err
	}
	type entry struct {
		name   string
		unique bool
	}
	var entries []entry
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		if origin == "pk" {
			continue
		}
		entries = append(entries, entry{name: name, unique: unique == 1})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	var b indexBuilder
	for _, e := range entries {
		rows := &sql.Rows{}
		if err := s.conn.Query(ctx, `SELECT "name" FROM pragma_index_info(?) ORDER BY "seqno"`, []any{e.name}, rows); err != nil {
			return nil, err
		}
		columns, err := sql.ScanStrings(rows)
		if err != nil {
			return nil, err
		}
		for _, c := range columns {
			b.add(e.name, c, e.unique)
		}
	}
	return b.indexes, nil
}

func (s *sqlite) GetForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	rows := &sql.Rows{}
	if err := s.conn.Query(ctx, "SELECT * FROM pragma_foreign_key_list(?) ORDER BY 1, 2", []any{table}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		b     fkBuilder
		names = make(map[int]string)
	)
	for rows.Next() {
		var (
			id, seq                              int
			ref, from, onUpdate, onDelete, match string
			to                                   sql.NullString
		)
		if err := rows.Scan(&id, &seq, &ref, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		name, ok := names[id]
		if !ok {
			name = table + "_" + from + "_fk"
			names[id] = name
		}
		b.add(name, from, ref, to.String, onUpdate, onDelete)
	}
	return b.keys, rows.Err()
}

func (s *sqlite) HasTable(ctx context.Context, table string) (bool, error) {
	rows := &sql.Rows{}
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if err := s.conn.Query(ctx, query, []any{table}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}

func (s *sqlite) HasColumn(ctx context.Context, table, column string) (bool, error) {
	rows := &sql.Rows{}
	query := `SELECT COUNT(*) FROM pragma_table_info(?) WHERE "name" = ?`
	if err := s.conn.Query(ctx, query, []any{table, column}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}

// exists reports if the single count of rows is positive.
func exists(rows *sql.Rows) (bool, error) {
	n, err := sql.ScanInts(rows)
	if err != nil {
		return false, err
	}
	return len(n) == 1 && n[0] > 0, nil
}
