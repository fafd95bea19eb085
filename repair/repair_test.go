package repair

import (
	"context"
	stdsql "database/sql"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/schema"
	"github.com/syssam/quarry/metadata"
	"github.com/syssam/quarry/transaction"
)

const tagsFixture = `
CREATE TABLE tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id VARCHAR(255),
	name TEXT,
	published_at DATETIME
);
CREATE TABLE articles (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT);
CREATE TABLE articles_tags_lnk (id INTEGER PRIMARY KEY AUTOINCREMENT, article_id INTEGER, tag_id INTEGER);
INSERT INTO tags (id, document_id, name, published_at) VALUES
	(101, 'doc-1', 'go', NULL),
	(102, 'doc-1', 'go', '2024-01-01 00:00:00'),
	(201, 'doc-2', 'sql', NULL),
	(202, 'doc-3', 'db', '2024-01-01 00:00:00');
INSERT INTO articles (id, title) VALUES (1, 'hello'), (2, 'world'), (11, 'draft only');
`

type env struct {
	db   *stdsql.DB
	reg  *metadata.Registry
	r    *Repairer
	logs *observer.ObservedLogs
}

func newEnv(t *testing.T, fixture string, models []*metadata.Model, opts ...Option) *env {
	t.Helper()
	db, err := stdsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(fixture)
	require.NoError(t, err)

	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	insp, err := schema.NewInspector(d, db)
	require.NoError(t, err)
	reg, err := metadata.NewRegistry(models...)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)
	r := New(reg, transaction.NewManager(sql.OpenDB(d, db)), insp, opts...)
	return &env{db: db, reg: reg, r: r, logs: logs}
}

func (e *env) exec(t *testing.T, query string) {
	t.Helper()
	_, err := e.db.Exec(query)
	require.NoError(t, err)
}

func (e *env) ints(t *testing.T, query string) []int64 {
	t.Helper()
	rows, err := e.db.Query(query)
	require.NoError(t, err)
	defer rows.Close()
	var vs []int64
	for rows.Next() {
		var v int64
		require.NoError(t, rows.Scan(&v))
		vs = append(vs, v)
	}
	require.NoError(t, rows.Err())
	return vs
}

func (e *env) logged(msg string) bool {
	return e.logs.FilterMessage(msg).Len() > 0
}

func tagModel() *metadata.Model {
	return &metadata.Model{UID: "api::tag.tag", TableName: "tags"}
}

func linkTable(name, join, inverse string) *metadata.JoinTable {
	return &metadata.JoinTable{
		Name:              name,
		JoinColumn:        metadata.JoinColumn{Name: join, ReferencedColumn: "id"},
		InverseJoinColumn: metadata.JoinColumn{Name: inverse, ReferencedColumn: "id"},
	}
}

func articleModel(attrs ...*metadata.Attribute) *metadata.Model {
	if len(attrs) == 0 {
		attrs = []*metadata.Attribute{{
			Name:      "tags",
			Type:      metadata.TypeRelation,
			Relation:  metadata.ManyToMany,
			Target:    "api::tag.tag",
			JoinTable: linkTable("articles_tags_lnk", "article_id", "tag_id"),
		}}
	}
	return &metadata.Model{UID: "api::article.article", TableName: "articles", Attributes: attrs}
}

func TestRemoveOrphanUnidirectionalRelations(t *testing.T) {
	ctx := context.Background()

	t.Run("GhostRelation", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()})
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102)`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{101}, e.ints(t, `SELECT tag_id FROM articles_tags_lnk WHERE article_id = 1`))
		assert.True(t, e.logged("Removing orphan unidirectional relations"))
		assert.True(t, e.logged(`Deleted 1 ghost relations from join table "articles_tags_lnk"`))
		assert.True(t, e.logged("Removed 1 orphan unidirectional relations"))

		n, err = e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "a second run finds nothing")
	})

	t.Run("Batches", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()}, WithDeleteBatchSize(1))
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102), (2, 101), (2, 102)`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int64{101, 101}, e.ints(t, `SELECT tag_id FROM articles_tags_lnk ORDER BY id`))
		assert.Equal(t, 1, e.logs.FilterMessage(`Deleted 2 ghost relations from join table "articles_tags_lnk"`).Len(),
			"one log line per join table")
	})

	t.Run("Siblingless", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()})
		// 201 is a draft without a published version, 202 an unrelated document.
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (11, 201), (11, 202), (2, 102)`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, e.ints(t, `SELECT id FROM articles_tags_lnk`), 3)
	})

	t.Run("SingleRowSource", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()})
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 102), (2, 101)`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, e.ints(t, `SELECT id FROM articles_tags_lnk`), 2)
	})

	t.Run("TargetWithoutDrafts", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()})
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102)`)
		e.exec(t, `UPDATE tags SET published_at = '2024-02-01 00:00:00'`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, e.ints(t, `SELECT id FROM articles_tags_lnk`), 2)
		assert.True(t, e.logged(`Skipping join table "articles_tags_lnk": target table "tags" does not support draft and publish`))
	})

	t.Run("TargetWithoutPublishedAt", func(t *testing.T) {
		fixture := `
CREATE TABLE labels (id INTEGER PRIMARY KEY, document_id TEXT);
CREATE TABLE articles (id INTEGER PRIMARY KEY);
CREATE TABLE articles_labels_lnk (id INTEGER PRIMARY KEY AUTOINCREMENT, article_id INTEGER, label_id INTEGER);
INSERT INTO labels (id, document_id) VALUES (1, 'doc-1'), (2, 'doc-1');
INSERT INTO articles_labels_lnk (article_id, label_id) VALUES (1, 1), (1, 2);
`
		e := newEnv(t, fixture, []*metadata.Model{
			articleModel(&metadata.Attribute{
				Name:      "labels",
				Type:      metadata.TypeRelation,
				Target:    "api::label.label",
				JoinTable: linkTable("articles_labels_lnk", "article_id", "label_id"),
			}),
			{UID: "api::label.label", TableName: "labels"},
		})
		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.True(t, e.logged(`Skipping join table "articles_labels_lnk": target table "labels" does not support draft and publish`))
	})

	t.Run("UnknownTarget", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{
			articleModel(&metadata.Attribute{
				Name:      "tags",
				Type:      metadata.TypeRelation,
				Target:    "api::gone.gone",
				JoinTable: linkTable("articles_tags_lnk", "article_id", "tag_id"),
			}),
		})
		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.True(t, e.logged(`Skipping relation "tags" of "api::article.article": target "api::gone.gone" not found`))
	})

	t.Run("BidirectionalIgnored", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{
			articleModel(&metadata.Attribute{
				Name:       "tags",
				Type:       metadata.TypeRelation,
				Target:     "api::tag.tag",
				InversedBy: "articles",
				JoinTable:  linkTable("articles_tags_lnk", "article_id", "tag_id"),
			}),
			tagModel(),
		})
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102)`)
		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("TxPerJoinTable", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{articleModel(), tagModel()}, WithTxPerJoinTable())
		e.exec(t, `INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102), (2, 101), (2, 102)`)

		n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int64{101, 101}, e.ints(t, `SELECT tag_id FROM articles_tags_lnk ORDER BY id`))
	})

	t.Run("MissingJoinTable", func(t *testing.T) {
		e := newEnv(t, tagsFixture, []*metadata.Model{
			articleModel(&metadata.Attribute{
				Name:      "tags",
				Type:      metadata.TypeRelation,
				Target:    "api::tag.tag",
				JoinTable: linkTable("articles_tags_missing", "article_id", "tag_id"),
			}),
			tagModel(),
		})
		_, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
		require.Error(t, err, "reading failures abort the run")
	})
}

const componentsFixture = tagsFixture + `
CREATE TABLE pages (id INTEGER PRIMARY KEY, document_id TEXT, published_at DATETIME);
INSERT INTO pages (id, document_id, published_at) VALUES (1, 'page-1', NULL);
CREATE TABLE pages_cmps (id INTEGER PRIMARY KEY AUTOINCREMENT, entity_id INTEGER, cmp_id INTEGER, component_type TEXT, field TEXT);
CREATE TABLE articles_cmps (id INTEGER PRIMARY KEY AUTOINCREMENT, entity_id INTEGER, cmp_id INTEGER, component_type TEXT, field TEXT);
CREATE TABLE components_shared_seos (id INTEGER PRIMARY KEY);
CREATE TABLE components_shared_seos_tags_lnk (id INTEGER PRIMARY KEY AUTOINCREMENT, seo_id INTEGER, tag_id INTEGER);
INSERT INTO components_shared_seos (id) VALUES (1), (2), (3);
INSERT INTO pages_cmps (entity_id, cmp_id, component_type, field) VALUES (1, 1, 'shared.seo', 'seo');
INSERT INTO articles_cmps (entity_id, cmp_id, component_type, field) VALUES (1, 2, 'shared.seo', 'seo');
INSERT INTO components_shared_seos_tags_lnk (seo_id, tag_id) VALUES (1, 101), (1, 102), (2, 101), (2, 102), (3, 101), (3, 102);
`

func componentModels() []*metadata.Model {
	return []*metadata.Model{
		{UID: "api::page.page", TableName: "pages"},
		articleModel(&metadata.Attribute{Name: "title", Type: "string"}),
		tagModel(),
		{UID: "shared.seo", TableName: "components_shared_seos", Attributes: []*metadata.Attribute{{
			Name:      "tags",
			Type:      metadata.TypeRelation,
			Relation:  metadata.ManyToMany,
			Target:    "api::tag.tag",
			JoinTable: linkTable("components_shared_seos_tags_lnk", "seo_id", "tag_id"),
		}}},
	}
}

func TestComponentParentGating(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, componentsFixture, componentModels())

	n, err := e.r.RemoveOrphanUnidirectionalRelations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the component owned by a draft and publish parent is repaired")
	assert.Equal(t, []int64{101}, e.ints(t, `SELECT tag_id FROM components_shared_seos_tags_lnk WHERE seo_id = 1`))
	assert.Len(t, e.ints(t, `SELECT tag_id FROM components_shared_seos_tags_lnk WHERE seo_id = 2`), 2)
	assert.Len(t, e.ints(t, `SELECT tag_id FROM components_shared_seos_tags_lnk WHERE seo_id = 3`), 2)
	assert.True(t, e.logged(`Skipping source 2 of join table "components_shared_seos_tags_lnk": parent table "articles" does not support draft and publish`))
	assert.True(t, e.logged(`Skipping source 3 of join table "components_shared_seos_tags_lnk": component parent not found`))
}

func TestFindComponentParent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, componentsFixture, componentModels())

	parent, err := e.r.FindComponentParent(ctx, "shared.seo", 1)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, &ComponentParent{UID: "api::page.page", Table: "pages", ParentID: 1}, parent)

	parent, err = e.r.FindComponentParent(ctx, "shared.seo", 2)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "articles", parent.Table)

	parent, err = e.r.FindComponentParent(ctx, "shared.seo", 3)
	require.NoError(t, err)
	assert.Nil(t, parent)

	parent, err = e.r.FindComponentParent(ctx, "shared.other", 1)
	require.NoError(t, err)
	assert.Nil(t, parent, "the component type must match")
}

func TestPartialFailureIsolation(t *testing.T) {
	fixture := tagsFixture + `
CREATE TABLE articles_pins_lnk (id INTEGER PRIMARY KEY AUTOINCREMENT, article_id INTEGER, tag_id INTEGER);
INSERT INTO articles_pins_lnk (article_id, tag_id) VALUES (1, 101), (1, 102);
INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102), (2, 101), (2, 102);
CREATE TRIGGER articles_pins_lnk_locked BEFORE DELETE ON articles_pins_lnk
BEGIN
	SELECT RAISE(ABORT, 'articles_pins_lnk is locked');
END;
`
	models := []*metadata.Model{
		articleModel(
			&metadata.Attribute{
				Name:      "pins",
				Type:      metadata.TypeRelation,
				Target:    "api::tag.tag",
				JoinTable: linkTable("articles_pins_lnk", "article_id", "tag_id"),
			},
			&metadata.Attribute{
				Name:      "tags",
				Type:      metadata.TypeRelation,
				Target:    "api::tag.tag",
				JoinTable: linkTable("articles_tags_lnk", "article_id", "tag_id"),
			},
		),
		tagModel(),
	}

	for _, tx := range []bool{false, true} {
		name := "Pool"
		opts := []Option{WithMetrics(prometheus.NewRegistry())}
		if tx {
			name = "Tx"
			opts = append(opts, WithTxPerJoinTable())
		}
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, fixture, models, opts...)
			n, err := e.r.RemoveOrphanUnidirectionalRelations(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, n, "the count of the second join table is returned")
			assert.Len(t, e.ints(t, `SELECT id FROM articles_pins_lnk`), 2)
			assert.True(t, e.logged(`Failed to delete ghost relations from join table "articles_pins_lnk"`))
			assert.Equal(t, 1, e.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
			assert.Equal(t, float64(1), testutil.ToFloat64(e.r.failures.WithLabelValues(OpUnidirectional)))
			assert.Equal(t, float64(2), testutil.ToFloat64(e.r.deleted.WithLabelValues(OpUnidirectional)))
		})
	}
}

const morphFixture = `
CREATE TABLE articles (id INTEGER PRIMARY KEY);
CREATE TABLE articles_cmps (id INTEGER PRIMARY KEY AUTOINCREMENT, entity_id INTEGER, cmp_id INTEGER, component_type TEXT, field TEXT);
INSERT INTO articles_cmps (entity_id, cmp_id, component_type, field) VALUES
	(1, 1, 'shared.seo', 'blocks'),
	(1, 2, 'shared.gone', 'blocks'),
	(2, 3, 'shared.gone', 'blocks'),
	(2, 4, 'shared.locked', 'blocks'),
	(3, 5, NULL, 'blocks');
CREATE TRIGGER articles_cmps_locked BEFORE DELETE ON articles_cmps WHEN OLD.component_type = 'shared.locked'
BEGIN
	SELECT RAISE(ABORT, 'locked');
END;
`

func morphModels() []*metadata.Model {
	return []*metadata.Model{
		articleModel(&metadata.Attribute{
			Name:     "blocks",
			Type:     metadata.TypeDynamic,
			Relation: metadata.MorphToMany,
		}, &metadata.Attribute{
			Name:     "components",
			Type:     metadata.TypeRelation,
			Relation: metadata.MorphToMany,
			JoinTable: &metadata.JoinTable{
				Name:              "articles_cmps",
				JoinColumn:        metadata.JoinColumn{Name: "entity_id", ReferencedColumn: "id"},
				InverseJoinColumn: metadata.JoinColumn{Name: "cmp_id", ReferencedColumn: "id"},
				PivotColumns:      []string{"entity_id", "cmp_id", "field", "component_type"},
			},
		}),
		{UID: "shared.seo", TableName: "components_shared_seos"},
	}
}

func TestRemoveOrphanMorphTypes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, morphFixture, morphModels(), WithMetrics(prometheus.NewRegistry()))

	n, err := e.r.RemoveOrphanMorphTypes(ctx, "component_type")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 4, 5}, e.ints(t, `SELECT cmp_id FROM articles_cmps ORDER BY cmp_id`))
	assert.True(t, e.logged(`Removing orphan morph type: "component_type"`))
	assert.True(t, e.logged(`Metadata for morph type "shared.gone" in table "articles_cmps" not found`))
	assert.True(t, e.logged(`Removing invalid morph type "shared.gone" from table "articles_cmps".`))
	assert.True(t, e.logged(`Failed to remove invalid morph type "shared.locked" from table "articles_cmps"`))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.r.failures.WithLabelValues(OpMorphTypes)))

	e.exec(t, `DROP TRIGGER articles_cmps_locked`)
	n, err = e.r.RemoveOrphanMorphTypes(ctx, "component_type")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.r.RemoveOrphanMorphTypes(ctx, "component_type")
	require.NoError(t, err)
	assert.Zero(t, n, "a second clean run deletes nothing")

	n, err = e.r.RemoveOrphanMorphTypes(ctx, "related_type")
	require.NoError(t, err)
	assert.Zero(t, n, "join tables without the pivot are ignored")
}

func TestRunAll(t *testing.T) {
	fixture := tagsFixture + `
CREATE TABLE articles_cmps (id INTEGER PRIMARY KEY AUTOINCREMENT, entity_id INTEGER, cmp_id INTEGER, component_type TEXT, field TEXT);
INSERT INTO articles_cmps (entity_id, cmp_id, component_type, field) VALUES (1, 1, 'shared.gone', 'blocks');
INSERT INTO articles_tags_lnk (article_id, tag_id) VALUES (1, 101), (1, 102);
`
	models := morphModels()
	models[0].Attributes = append(models[0].Attributes, articleModel().Attributes...)
	models = append(models, tagModel())
	e := newEnv(t, fixture, models)

	rep, err := e.r.RunAll(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, &Report{UnidirectionalRelations: 1, MorphTypes: 1}, rep)
	assert.Equal(t, 2, rep.Total())
}
