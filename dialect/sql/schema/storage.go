package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

// StorageTable is the table holding the last stored snapshot.
const StorageTable = "quarry_database_schema"

// Snapshot is a stored schema with its hash.
type Snapshot struct {
	Schema *Schema
	Time   time.Time
	Hash   string
}

// Storage persists schema snapshots in StorageTable. The table is created
// on first use.
type Storage struct {
	dialect string
	db      dialect.ExecQuerier
}

// NewStorage returns a Storage executing statements on db.
func NewStorage(d dialect.Dialect, db dialect.ExecQuerier) *Storage {
	return &Storage{dialect: d.Name(), db: db}
}

func (s *Storage) ensure(ctx context.Context) error {
	b := sql.Dialect(s.dialect)
	var id, blob string
	switch s.dialect {
	case dialect.SQLite:
		id, blob = "INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"
	case dialect.MySQL:
		id, blob = "INT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY", "LONGBLOB"
	default:
		id, blob = "SERIAL PRIMARY KEY", "BYTEA"
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s, %s %s, %s BIGINT, %s VARCHAR(255))",
		b.Quote(StorageTable), b.Quote("id"), id, b.Quote("schema"), blob, b.Quote("time"), b.Quote("hash"))
	if err := s.db.Exec(ctx, query, []any{}, nil); err != nil {
		return fmt.Errorf("schema: create storage table: %w", err)
	}
	return nil
}

// Read returns the most recent snapshot, or nil if none was stored.
func (s *Storage) Read(ctx context.Context) (*Snapshot, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	query, args := sql.Dialect(s.dialect).
		Select("schema", "time", "hash").
		From(sql.Table(StorageTable)).
		OrderBy(sql.Desc("time"), sql.Desc("id")).
		Limit(1).
		Query()
	rows := &sql.Rows{}
	if err := s.db.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		blob []byte
		ms   int64
		snap Snapshot
	)
	if err := rows.Scan(&blob, &ms, &snap.Hash); err != nil {
		return nil, err
	}
	schema, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	snap.Schema = schema
	snap.Time = time.UnixMilli(ms).UTC()
	return &snap, nil
}

// Add replaces the stored snapshot with schema.
func (s *Storage) Add(ctx context.Context, schema *Schema) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	blob, err := Encode(schema)
	if err != nil {
		return err
	}
	if err := s.Clear(ctx); err != nil {
		return err
	}
	query, args := sql.Dialect(s.dialect).
		Insert(StorageTable).
		Columns("schema", "time", "hash").
		Values(blob, time.Now().UnixMilli(), hash(blob)).
		Query()
	return s.db.Exec(ctx, query, args, nil)
}

// Clear deletes every stored snapshot.
func (s *Storage) Clear(ctx context.Context) error {
	query, args := sql.Dialect(s.dialect).Delete(StorageTable).Query()
	return s.db.Exec(ctx, query, args, nil)
}

// Encode returns the msgpack encoding of a snapshot.
func Encode(s *Schema) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("schema: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes a snapshot encoded by Encode.
func Decode(b []byte) (*Schema, error) {
	var s Schema
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("schema: decode snapshot: %w", err)
	}
	return &s, nil
}

// Hash returns the hex sha256 of the encoded snapshot.
func Hash(s *Schema) (string, error) {
	b, err := Encode(s)
	if err != nil {
		return "", err
	}
	return hash(b), nil
}

func hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
