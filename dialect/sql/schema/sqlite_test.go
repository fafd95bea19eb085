package schema

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry/dialect"
)

const sqliteFixture = `
CREATE TABLE tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id VARCHAR(255),
	name TEXT NOT NULL DEFAULT 'untitled',
	published_at DATETIME,
	score FLOAT,
	meta JSON,
	views BIGINT,
	active BOOLEAN,
	price DECIMAL(10,2)
);
CREATE UNIQUE INDEX tags_document_name_uq ON tags (document_id, name);
CREATE TABLE articles (id INTEGER PRIMARY KEY AUTOINCREMENT, title VARCHAR(80));
CREATE TABLE articles_tags_lnk (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	article_id INTEGER,
	tag_id INTEGER,
	FOREIGN KEY (article_id) REFERENCES articles (id) ON DELETE CASCADE,
	FOREIGN KEY (tag_id) REFERENCES tags (id) ON DELETE set null
);
CREATE INDEX articles_tags_lnk_fk ON articles_tags_lnk (article_id);
`

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(sqliteFixture)
	require.NoError(t, err)
	return db
}

func sqliteInspector(t *testing.T, db *sql.DB) Inspector {
	t.Helper()
	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	insp, err := NewInspector(d, db, WithConcurrency(2))
	require.NoError(t, err)
	return insp
}

func TestSQLiteInspector(t *testing.T) {
	ctx := context.Background()
	insp := sqliteInspector(t, openSQLite(t))

	t.Run("Tables", func(t *testing.T) {
		tables, err := insp.GetTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"articles", "articles_tags_lnk", "tags"}, tables)
	})

	t.Run("Columns", func(t *testing.T) {
		columns, err := insp.GetColumns(ctx, "tags")
		require.NoError(t, err)
		byName := make(map[string]*Column)
		for _, c := range columns {
			byName[c.Name] = c
		}
		require.Len(t, columns, 9)
		assert.Equal(t, "id", columns[0].Name, "declaration order is kept")
		assert.Equal(t, TypeIncrements, byName["id"].Type)
		assert.Equal(t, TypeString, byName["document_id"].Type)
		assert.Equal(t, []any{255}, byName["document_id"].Args)
		assert.Equal(t, TypeText, byName["name"].Type)
		assert.True(t, byName["name"].NotNullable)
		require.NotNil(t, byName["name"].DefaultTo)
		assert.Equal(t, "'untitled'", *byName["name"].DefaultTo)
		assert.Equal(t, TypeDateTime, byName["published_at"].Type)
		assert.False(t, byName["published_at"].NotNullable)
		assert.Equal(t, TypeFloat, byName["score"].Type)
		assert.Equal(t, TypeJSONB, byName["meta"].Type)
		assert.Equal(t, TypeBigInteger, byName["views"].Type)
		assert.Equal(t, TypeBoolean, byName["active"].Type)
		assert.Equal(t, TypeSpecificType, byName["price"].Type)
		assert.Equal(t, []any{"DECIMAL(10,2)"}, byName["price"].Args)
	})

	t.Run("Indexes", func(t *testing.T) {
		indexes, err := insp.GetIndexes(ctx, "tags")
		require.NoError(t, err)
		require.Len(t, indexes, 1)
		assert.Equal(t, &Index{Name: "tags_document_name_uq", Columns: []string{"document_id", "name"}, Type: IndexUnique}, indexes[0])

		indexes, err = insp.GetIndexes(ctx, "articles_tags_lnk")
		require.NoError(t, err)
		require.Len(t, indexes, 1)
		assert.Equal(t, &Index{Name: "articles_tags_lnk_fk", Columns: []string{"article_id"}}, indexes[0])
	})

	t.Run("ForeignKeys", func(t *testing.T) {
		fks, err := insp.GetForeignKeys(ctx, "articles_tags_lnk")
		require.NoError(t, err)
		assert.ElementsMatch(t, []*ForeignKey{
			{
				Name:              "articles_tags_lnk_article_id_fk",
				Columns:           []string{"article_id"},
				ReferencedTable:   "articles",
				ReferencedColumns: []string{"id"},
				OnUpdate:          "NO ACTION",
				OnDelete:          "CASCADE",
			},
			{
				Name:              "articles_tags_lnk_tag_id_fk",
				Columns:           []string{"tag_id"},
				ReferencedTable:   "tags",
				ReferencedColumns: []string{"id"},
				OnUpdate:          "NO ACTION",
				OnDelete:          "SET NULL",
			},
		}, fks)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := insp.HasTable(ctx, "tags")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = insp.HasTable(ctx, "pages_cmps")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = insp.HasColumn(ctx, "tags", "published_at")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = insp.HasColumn(ctx, "articles", "published_at")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Schema", func(t *testing.T) {
		s, err := insp.GetSchema(ctx)
		require.NoError(t, err)
		require.Len(t, s.Tables, 3)
		assert.Equal(t, "articles", s.Tables[0].Name)
		lnk, ok := s.Table("articles_tags_lnk")
		require.True(t, ok)
		assert.Len(t, lnk.ForeignKeys, 2)
		assert.False(t, ValidateSchema(s).HasErrors())
	})
}

func TestNewInspectorUnknownDialect(t *testing.T) {
	_, err := NewInspector(fakeDialect{}, nil)
	require.Error(t, err)
}

type fakeDialect struct{ dialect.Dialect }

func (fakeDialect) Name() string { return "oracle" }
