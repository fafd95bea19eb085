package schema

import (
	"context"
	"strings"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

// mysql reads schemas from information_schema of the current database.
type mysql struct {
	conn sql.Conn
}

func newMySQL(d dialect.Dialect, db ExecQuerier) *mysql {
	return &mysql{conn: sql.NewConn(d, db)}
}

const (
	mysqlTablesQuery = "SELECT table_name FROM information_schema.tables " +
		"WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name"

	mysqlColumnsQuery = "SELECT column_name, data_type, column_type, column_default, is_nullable, extra, character_maximum_length " +
		"FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position"

	mysqlIndexesQuery = "SELECT index_name, column_name, non_unique FROM information_schema.statistics " +
		"WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY' ORDER BY index_name, seq_in_index"

	mysqlForeignKeysQuery = "SELECT kcu.constraint_name, kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name, rc.update_rule, rc.delete_rule " +
		"FROM information_schema.key_column_usage AS kcu " +
		"JOIN information_schema.referential_constraints AS rc " +
		"ON rc.constraint_schema = kcu.constraint_schema AND rc.constraint_name = kcu.constraint_name " +
		"WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ? ORDER BY kcu.constraint_name, kcu.ordinal_position"

	mysqlHasTableQuery = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"

	mysqlHasColumnQuery = "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?"
)

func (m *mysql) GetTables(ctx context.Context) ([]string, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlTablesQuery, []any{}, rows); err != nil {
		return nil, err
	}
	return sql.ScanStrings(rows)
}

func (m *mysql) GetColumns(ctx context.Context, table string) ([]*Column, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlColumnsQuery, []any{table}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var columns []*Column
	for rows.Next() {
		var (
			c                           Column
			dataType, columnType, extra string
			nullable                    string
			dflt                        sql.NullString
			length                      sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &dataType, &columnType, &dflt, &nullable, &extra, &length); err != nil {
			return nil, err
		}
		c.Type, c.Args = mysqlType(dataType, columnType, extra, int(length.Int64))
		c.NotNullable = nullable == "NO"
		c.Unsigned = strings.Contains(strings.ToLower(columnType), "unsigned")
		if dflt.Valid {
			c.DefaultTo = &dflt.String
		}
		columns = append(columns, &c)
	}
	return columns, rows.Err()
}

func mysqlType(dataType, columnType, extra string, length int) (string, []any) {
	switch strings.ToLower(dataType) {
	case "int":
		if strings.Contains(extra, "auto_increment") {
			return TypeIncrements, nil
		}
		return TypeInteger, nil
	case "decimal":
		return TypeDecimal, []any{10, 2}
	case "double", "float":
		return TypeFloat, nil
	case "bigint":
		return TypeBigInteger, nil
	case "enum":
		return TypeEnum, []any{columnType}
	case "tinyint":
		return TypeBoolean, nil
	case "longtext":
		return TypeText, []any{"longtext"}
	case "varchar":
		return TypeString, []any{length}
	case "datetime":
		return TypeDateTime, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "json":
		return TypeJSONB, nil
	}
	return specific(columnType)
}

func (m *mysql) GetIndexes(ctx context.Context, table string) ([]*Index, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlIndexesQuery, []any{table}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var b indexBuilder
	for rows.Next() {
		var (
			name, column string
			nonUnique    int
		)
		if err := rows.Scan(&name, &column, &nonUnique); err != nil {
			return nil, err
		}
		b.add(name, column, nonUnique == 0)
	}
	return b.indexes, rows.Err()
}

func (m *mysql) GetForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlForeignKeysQuery, []any{table}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var b fkBuilder
	for rows.Next() {
		var name, column, refTable, refColumn, onUpdate, onDelete string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onUpdate, &onDelete); err != nil {
			return nil, err
		}
		b.add(name, column, refTable, refColumn, onUpdate, onDelete)
	}
	return b.keys, rows.Err()
}

func (m *mysql) HasTable(ctx context.Context, table string) (bool, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlHasTableQuery, []any{table}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}

func (m *mysql) HasColumn(ctx context.Context, table, column string) (bool, error) {
	rows := &sql.Rows{}
	if err := m.conn.Query(ctx, mysqlHasColumnQuery, []any{table, column}, rows); err != nil {
		return false, err
	}
	return exists(rows)
}
