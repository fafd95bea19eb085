package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/quarry/dialect"
)

func TestSelector(t *testing.T) {
	tests := []struct {
		name      string
		input     Querier
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "all columns",
			input:     Select().From(Table("users")),
			wantQuery: "SELECT * FROM `users`",
		},
		{
			name:      "distinct",
			input:     Dialect(dialect.Postgres).Select("component_type").Distinct().From(Table("pages_cmps")).Where(NotNull("component_type")),
			wantQuery: `SELECT DISTINCT "component_type" FROM "pages_cmps" WHERE "component_type" IS NOT NULL`,
		},
		{
			name: "left join with aliases",
			input: func() Querier {
				j := Table("articles_tags_lnk").As("j")
				tt := Table("tags").As("t")
				return Dialect(dialect.SQLite).
					Select(As(j.C("id"), "join_id"), As(j.C("article_id"), "source_id"), As(tt.C("published_at"), "target_published_at")).
					From(j).
					LeftJoin(tt).On(j.C("tag_id"), tt.C("id"))
			}(),
			wantQuery: "SELECT `j`.`id` AS `join_id`, `j`.`article_id` AS `source_id`, `t`.`published_at` AS `target_published_at` " +
				"FROM `articles_tags_lnk` AS `j` LEFT JOIN `tags` AS `t` ON `j`.`tag_id` = `t`.`id`",
		},
		{
			name: "postgres placeholders",
			input: Dialect(dialect.Postgres).Select("id").From(Table("tags").Schema("cms")).
				Where(EQ("document_id", "doc-1")).
				Where(NotNull("published_at")).
				Where(In("locale", "en", "fr")).
				Limit(1),
			wantQuery: `SELECT "id" FROM "cms"."tags" WHERE ("document_id" = $1 AND "published_at" IS NOT NULL AND "locale" IN ($2, $3)) LIMIT 1`,
			wantArgs:  []any{"doc-1", "en", "fr"},
		},
		{
			name: "nested predicates",
			input: Dialect(dialect.MySQL).Select(Count("*")).From(Table("users")).
				Where(And(EQ("status", "active"), Or(GT("age", 18), LT("age", 5)), Not(IsNull("email")))),
			wantQuery: "SELECT COUNT(*) FROM `users` WHERE (`status` = ? AND (`age` > ? OR `age` < ?) AND NOT (`email` IS NULL))",
			wantArgs:  []any{"active", 18, 5},
		},
		{
			name:      "order limit offset",
			input:     Dialect(dialect.SQLite).Select("id").From(Table("users")).OrderBy(Desc("created_at"), "id").Limit(10).Offset(20),
			wantQuery: "SELECT `id` FROM `users` ORDER BY `created_at` DESC, `id` LIMIT 10 OFFSET 20",
		},
		{
			name:      "empty in",
			input:     Dialect(dialect.Postgres).Select("id").From(Table("users")).Where(In("id")).Where(NotIn("id")),
			wantQuery: `SELECT "id" FROM "users" WHERE (FALSE AND TRUE)`,
		},
		{
			name:      "quote escaping",
			input:     Dialect(dialect.Postgres).Select(`we"ird`).From(Table("t")),
			wantQuery: `SELECT "we""ird" FROM "t"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := tt.input.Query()
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestDeleteBuilder(t *testing.T) {
	query, args := Dialect(dialect.Postgres).Delete("articles_tags_lnk").Where(In("id", 4, 7)).Query()
	assert.Equal(t, `DELETE FROM "articles_tags_lnk" WHERE "id" IN ($1, $2)`, query)
	assert.Equal(t, []any{4, 7}, args)

	query, args = Dialect(dialect.MySQL).Delete("pages_cmps").Schema("app").Where(EQ("component_type", "shared.old")).Query()
	assert.Equal(t, "DELETE FROM `app`.`pages_cmps` WHERE `component_type` = ?", query)
	assert.Equal(t, []any{"shared.old"}, args)

	query, args = Delete("users").Query()
	assert.Equal(t, "DELETE FROM `users`", query)
	assert.Nil(t, args)
}

func TestInsertBuilder(t *testing.T) {
	query, args := Dialect(dialect.Postgres).Insert("tags").
		Columns("document_id", "published_at").
		Values("doc-1", nil).
		Values("doc-1", "2024-01-01").
		Query()
	assert.Equal(t, `INSERT INTO "tags" ("document_id", "published_at") VALUES ($1, $2), ($3, $4)`, query)
	assert.Equal(t, []any{"doc-1", nil, "doc-1", "2024-01-01"}, args)

	query, _ = Insert("tags").Schema("s").Columns("id").Values(1).Query()
	assert.Equal(t, "INSERT INTO `s`.`tags` (`id`) VALUES (?)", query)
}
