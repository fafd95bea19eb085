// Package schema inspects live database schemas and produces a
// backend-agnostic snapshot of their tables.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/quarry/dialect"
)

// Abstract column types of a snapshot.
const (
	TypeIncrements   = "increments"
	TypeInteger      = "integer"
	TypeBigInteger   = "bigInteger"
	TypeString       = "string"
	TypeText         = "text"
	TypeBoolean      = "boolean"
	TypeDateTime     = "datetime"
	TypeDate         = "date"
	TypeTime         = "time"
	TypeTimestamp    = "timestamp"
	TypeJSON         = "json"
	TypeJSONB        = "jsonb"
	TypeDecimal      = "decimal"
	TypeFloat        = "float"
	TypeEnum         = "enum"
	TypeSpecificType = "specificType"
)

// IndexUnique is the type of unique indexes.
const IndexUnique = "unique"

type (
	// Schema is a snapshot of the tables of a database.
	Schema struct {
		Tables []*Table `msgpack:"tables" yaml:"tables"`
	}

	// Table describes a table.
	Table struct {
		Name        string        `msgpack:"name" yaml:"name"`
		Columns     []*Column     `msgpack:"columns" yaml:"columns"`
		Indexes     []*Index      `msgpack:"indexes" yaml:"indexes,omitempty"`
		ForeignKeys []*ForeignKey `msgpack:"foreignKeys" yaml:"foreignKeys,omitempty"`
	}

	// Column describes a column with its type normalized to the abstract
	// vocabulary. Args holds type arguments such as the length of a string
	// or the raw type of a specificType.
	Column struct {
		Name        string  `msgpack:"name" yaml:"name"`
		Type        string  `msgpack:"type" yaml:"type"`
		Args        []any   `msgpack:"args" yaml:"args,omitempty"`
		DefaultTo   *string `msgpack:"defaultTo" yaml:"defaultTo,omitempty"`
		NotNullable bool    `msgpack:"notNullable" yaml:"notNullable"`
		Unsigned    bool    `msgpack:"unsigned" yaml:"unsigned"`
	}

	// Index describes a secondary index. Type is IndexUnique or empty.
	Index struct {
		Name    string   `msgpack:"name" yaml:"name"`
		Columns []string `msgpack:"columns" yaml:"columns"`
		Type    string   `msgpack:"type" yaml:"type,omitempty"`
	}

	// ForeignKey describes a possibly composite foreign key constraint.
	ForeignKey struct {
		Name              string   `msgpack:"name" yaml:"name"`
		Columns           []string `msgpack:"columns" yaml:"columns"`
		ReferencedTable   string   `msgpack:"referencedTable" yaml:"referencedTable"`
		ReferencedColumns []string `msgpack:"referencedColumns" yaml:"referencedColumns"`
		OnUpdate          string   `msgpack:"onUpdate" yaml:"onUpdate,omitempty"`
		OnDelete          string   `msgpack:"onDelete" yaml:"onDelete,omitempty"`
	}
)

// Table returns the table with the given name.
func (s *Schema) Table(name string) (*Table, bool) {
	i := slices.IndexFunc(s.Tables, func(t *Table) bool { return t.Name == name })
	if i < 0 {
		return nil, false
	}
	return s.Tables[i], true
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c *Column) bool { return c.Name == name })
	if i < 0 {
		return nil, false
	}
	return t.Columns[i], true
}

// ExecQuerier is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Inspector reads the schema of a live database.
type Inspector interface {
	GetSchema(ctx context.Context) (*Schema, error)
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]*Column, error)
	GetIndexes(ctx context.Context, table string) ([]*Index, error)
	GetForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error)
	HasTable(ctx context.Context, table string) (bool, error)
	HasColumn(ctx context.Context, table, column string) (bool, error)
}

// InspectorOption configures an Inspector.
type InspectorOption func(*inspector)

// WithConcurrency bounds the number of tables read concurrently by
// GetSchema. Default is 4.
func WithConcurrency(n int) InspectorOption {
	return func(i *inspector) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithSchema sets the Postgres schema inspected. Without it the inspector
// uses the schema the dialect was configured with, or the current schema of
// the session.
func WithSchema(name string) InspectorOption {
	return func(i *inspector) { i.schema = name }
}

// NewInspector returns the Inspector of the dialect over db.
func NewInspector(d dialect.Dialect, db ExecQuerier, opts ...InspectorOption) (Inspector, error) {
	i := &inspector{concurrency: 4}
	for _, opt := range opts {
		opt(i)
	}
	switch d.Name() {
	case dialect.SQLite:
		i.backend = newSQLite(d, db)
	case dialect.MySQL:
		i.backend = newMySQL(d, db)
	case dialect.Postgres, dialect.CockroachDB:
		i.backend = newPostgres(d, db, i.schema)
	default:
		return nil, fmt.Errorf("schema: no inspector for dialect %q", d.Name())
	}
	return i, nil
}

// backend is the per dialect part of an Inspector.
type backend interface {
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]*Column, error)
	GetIndexes(ctx context.Context, table string) ([]*Index, error)
	GetForeignKeys(ctx context.Context, table string) ([]*ForeignKey, error)
	HasTable(ctx context.Context, table string) (bool, error)
	HasColumn(ctx context.Context, table, column string) (bool, error)
}

// schemaReader is implemented by backends reading a whole schema at once.
type schemaReader interface {
	readSchema(ctx context.Context) (*Schema, error)
}

type inspector struct {
	backend
	concurrency int
	schema      string
}

// GetSchema reads every table. Tables are read concurrently and returned in
// the order of GetTables.
func (i *inspector) GetSchema(ctx context.Context) (*Schema, error) {
	if r, ok := i.backend.(schemaReader); ok {
		return r.readSchema(ctx)
	}
	names, err := i.GetTables(ctx)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, name := range names {
		g.Go(func() error {
			t, err := i.table(ctx, name)
			if err != nil {
				return err
			}
			tables[n] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Schema{Tables: tables}, nil
}

func (i *inspector) table(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}
	var err error
	if t.Columns, err = i.GetColumns(ctx, name); err != nil {
		return nil, fmt.Errorf("schema: columns of %q: %w", name, err)
	}
	if t.Indexes, err = i.GetIndexes(ctx, name); err != nil {
		return nil, fmt.Errorf("schema: indexes of %q: %w", name, err)
	}
	if t.ForeignKeys, err = i.GetForeignKeys(ctx, name); err != nil {
		return nil, fmt.Errorf("schema: foreign keys of %q: %w", name, err)
	}
	return t, nil
}

// fkBuilder aggregates foreign key rows into ordered constraints.
type fkBuilder struct {
	keys  []*ForeignKey
	index map[string]*ForeignKey
}

func (b *fkBuilder) add(name, column, refTable, refColumn, onUpdate, onDelete string) {
	if b.index == nil {
		b.index = make(map[string]*ForeignKey)
	}
	fk, ok := b.index[name]
	if !ok {
		fk = &ForeignKey{
			Name:            name,
			ReferencedTable: refTable,
			OnUpdate:        upper(onUpdate),
			OnDelete:        upper(onDelete),
		}
		b.index[name] = fk
		b.keys = append(b.keys, fk)
	}
	fk.Columns = append(fk.Columns, column)
	fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
}

// indexBuilder merges index rows into one Index per name.
type indexBuilder struct {
	indexes []*Index
	index   map[string]*Index
}

func (b *indexBuilder) add(name, column string, unique bool) {
	if b.index == nil {
		b.index = make(map[string]*Index)
	}
	idx, ok := b.index[name]
	if !ok {
		idx = &Index{Name: name}
		if unique {
			idx.Type = IndexUnique
		}
		b.index[name] = idx
		b.indexes = append(b.indexes, idx)
	}
	idx.Columns = append(idx.Columns, column)
}
