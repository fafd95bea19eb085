package schema

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/dialect"
)

func escape(query string) string {
	return regexp.QuoteMeta(query)
}

func mysqlMock(t *testing.T) (Inspector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	d, err := dialect.New("mariadb")
	require.NoError(t, err)
	insp, err := NewInspector(d, db, WithConcurrency(1))
	require.NoError(t, err)
	return insp, mock
}

func TestMySQLInspector(t *testing.T) {
	ctx := context.Background()
	insp, mock := mysqlMock(t)

	mock.ExpectQuery(escape(mysqlTablesQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("articles_tags_lnk"))
	mock.ExpectQuery(escape(mysqlColumnsQuery)).
		WithArgs("articles_tags_lnk").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "column_type", "column_default", "is_nullable", "extra", "character_maximum_length"}).
			AddRow("id", "int", "int unsigned", nil, "NO", "auto_increment", nil).
			AddRow("article_id", "int", "int unsigned", nil, "YES", "", nil).
			AddRow("tag_id", "int", "int unsigned", nil, "YES", "", nil).
			AddRow("kind", "varchar", "varchar(255)", "main", "NO", "", 255).
			AddRow("status", "enum", "enum('a','b')", nil, "YES", "", 1).
			AddRow("point", "geometry", "geometry", nil, "YES", "", nil))
	mock.ExpectQuery(escape(mysqlIndexesQuery)).
		WithArgs("articles_tags_lnk").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "column_name", "non_unique"}).
			AddRow("articles_tags_lnk_uq", "article_id", 0).
			AddRow("articles_tags_lnk_uq", "tag_id", 0).
			AddRow("articles_tags_lnk_fk", "article_id", 1))
	mock.ExpectQuery(escape(mysqlForeignKeysQuery)).
		WithArgs("articles_tags_lnk").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "column_name", "referenced_table_name", "referenced_column_name", "update_rule", "delete_rule"}).
			AddRow("articles_tags_lnk_fk", "article_id", "articles", "id", "no action", "cascade").
			AddRow("articles_tags_lnk_inv_fk", "tag_id", "tags", "id", "NO ACTION", "set null"))

	s, err := insp.GetSchema(ctx)
	require.NoError(t, err)
	require.Len(t, s.Tables, 1)
	tbl := s.Tables[0]

	require.Len(t, tbl.Columns, 6)
	assert.Equal(t, TypeIncrements, tbl.Columns[0].Type)
	assert.True(t, tbl.Columns[0].Unsigned)
	assert.True(t, tbl.Columns[0].NotNullable)
	assert.Equal(t, TypeInteger, tbl.Columns[1].Type)
	assert.Equal(t, TypeString, tbl.Columns[3].Type)
	assert.Equal(t, []any{255}, tbl.Columns[3].Args)
	require.NotNil(t, tbl.Columns[3].DefaultTo)
	assert.Equal(t, "main", *tbl.Columns[3].DefaultTo)
	assert.Equal(t, TypeEnum, tbl.Columns[4].Type)
	assert.Equal(t, []any{"enum('a','b')"}, tbl.Columns[4].Args)
	assert.Equal(t, TypeSpecificType, tbl.Columns[5].Type)
	assert.Equal(t, []any{"geometry"}, tbl.Columns[5].Args)

	assert.Equal(t, []*Index{
		{Name: "articles_tags_lnk_uq", Columns: []string{"article_id", "tag_id"}, Type: IndexUnique},
		{Name: "articles_tags_lnk_fk", Columns: []string{"article_id"}},
	}, tbl.Indexes)

	require.Len(t, tbl.ForeignKeys, 2)
	assert.Equal(t, "NO ACTION", tbl.ForeignKeys[0].OnUpdate)
	assert.Equal(t, "CASCADE", tbl.ForeignKeys[0].OnDelete)
	assert.Equal(t, "SET NULL", tbl.ForeignKeys[1].OnDelete)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCompositeForeignKey(t *testing.T) {
	insp, mock := mysqlMock(t)
	mock.ExpectQuery(escape(mysqlForeignKeysQuery)).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "column_name", "referenced_table_name", "referenced_column_name", "update_rule", "delete_rule"}).
			AddRow("orders_customer_fk", "customer_id", "customers", "id", "RESTRICT", "RESTRICT").
			AddRow("orders_customer_fk", "customer_region", "customers", "region", "RESTRICT", "RESTRICT"))

	fks, err := insp.GetForeignKeys(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, []string{"customer_id", "customer_region"}, fks[0].Columns)
	assert.Equal(t, []string{"id", "region"}, fks[0].ReferencedColumns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLExists(t *testing.T) {
	ctx := context.Background()
	insp, mock := mysqlMock(t)
	mock.ExpectQuery(escape(mysqlHasTableQuery)).
		WithArgs("tags").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(escape(mysqlHasColumnQuery)).
		WithArgs("tags", "published_at").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := insp.HasTable(ctx, "tags")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = insp.HasColumn(ctx, "tags", "published_at")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
