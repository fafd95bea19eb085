package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/schema"
	"github.com/syssam/quarry/metadata"
	"github.com/syssam/quarry/repair"
)

// gooseVersionTable is the version table of the migration runner.
const gooseVersionTable = "goose_db_version"

// gooseMu guards the package level configuration of goose.
var gooseMu sync.Mutex

// SchemaDriftError is returned by Init when the live schema dropped
// structure recorded in the stored snapshot.
type SchemaDriftError struct {
	Result *schema.ValidationResult
}

func (e *SchemaDriftError) Error() string {
	return "database: breaking schema drift:\n" + e.Result.String()
}

// Init validates the model relations of reg, runs the pending migrations
// when configured, and checks the live schema against the stored snapshot.
// Breaking drift fails Init unless Settings.ForceMigration is set. The
// snapshot is replaced when the schema changed.
func (db *Database) Init(ctx context.Context, reg *metadata.Registry) error {
	if err := metadata.Validate(reg); err != nil {
		return fmt.Errorf("database: invalid metadata: %w", err)
	}
	db.mu.Lock()
	if db.reg != nil {
		db.mu.Unlock()
		return errors.New("database: already initialized")
	}
	db.reg = reg
	opts := []repair.Option{
		repair.WithLogger(db.log),
		repair.WithSchema(db.schema),
		repair.WithMetrics(db.metrics),
	}
	if db.cfg.Settings.Repair.TxPerJoinTable {
		opts = append(opts, repair.WithTxPerJoinTable())
	}
	db.repairer = repair.New(reg, db.tm, db.insp, opts...)
	db.mu.Unlock()

	if db.cfg.Settings.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	return db.syncSchema(ctx)
}

// Migrate runs the pending migrations of the configured directory with
// foreign key checks disabled. A missing directory is not an error.
func (db *Database) Migrate(ctx context.Context) (err error) {
	dir := db.cfg.Settings.migrationsDir()
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		db.log.Debug("No migrations directory", zap.String("dir", dir))
		return nil
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{db.log.Sugar()})
	goose.SetTableName(gooseVersionTable)
	if err := goose.SetDialect(gooseDialect(db.dialect.Name())); err != nil {
		return fmt.Errorf("database: migrations: %w", err)
	}
	pool, release, err := db.migrationPool()
	if err != nil {
		return fmt.Errorf("database: migrations: %w", err)
	}
	defer func() { err = errors.Join(err, release()) }()
	return schemaUpdate(ctx, db.dialect, pool, func() error {
		if err := goose.UpContext(ctx, pool, dir); err != nil {
			return fmt.Errorf("database: migrations: %w", db.dialect.TransformError(err))
		}
		return nil
	})
}

// migrationPool returns the pool migrations run on and the function
// releasing it. Session settings changed around migrations hold for a
// single connection, so a pool with more than one connection is replaced
// by a dedicated pool of one.
func (db *Database) migrationPool() (*stdsql.DB, func() error, error) {
	if raw := db.drv.DB(); raw.Stats().MaxOpenConnections == 1 {
		return raw, func() error { return nil }, nil
	}
	conn := db.cfg.Connection
	conn.Pool = dialect.Pool{Min: 1, Max: 1}
	drv, err := sql.Open(db.dialect, conn)
	if err != nil {
		return nil, nil, err
	}
	return drv.DB(), drv.Close, nil
}

// schemaUpdate runs fn between the start and the end of a schema update on
// pool. The update ends even when fn fails.
func schemaUpdate(ctx context.Context, d dialect.Dialect, pool *stdsql.DB, fn func() error) error {
	if err := d.StartSchemaUpdate(ctx, pool); err != nil {
		return fmt.Errorf("database: start schema update: %w", err)
	}
	err := fn()
	if endErr := d.EndSchemaUpdate(ctx, pool); endErr != nil {
		err = errors.Join(err, fmt.Errorf("database: end schema update: %w", endErr))
	}
	return err
}

func gooseDialect(name string) string {
	switch name {
	case dialect.SQLite:
		return "sqlite3"
	case dialect.MySQL:
		return "mysql"
	default:
		return "postgres"
	}
}

// syncSchema compares the live schema with the stored snapshot and stores
// it when it changed.
func (db *Database) syncSchema(ctx context.Context) error {
	current, err := db.insp.GetSchema(ctx)
	if err != nil {
		return fmt.Errorf("database: inspect: %w", err)
	}
	current.Tables = slices.DeleteFunc(current.Tables, func(t *schema.Table) bool {
		return t.Name == schema.StorageTable || t.Name == gooseVersionTable
	})
	if res := schema.ValidateSchema(current); res.HasErrors() {
		db.log.Warn("Inconsistent database schema", zap.String("report", res.String()))
	}
	hash, err := schema.Hash(current)
	if err != nil {
		return err
	}
	storage := schema.NewStorage(db.dialect, db.stats)
	prev, err := storage.Read(ctx)
	if err != nil {
		return fmt.Errorf("database: read schema snapshot: %w", err)
	}
	if prev != nil {
		if prev.Hash == hash {
			db.log.Debug("Database schema unchanged", zap.String("hash", hash))
			return nil
		}
		var opts []schema.ValidateOption
		if db.cfg.Settings.ForceMigration {
			opts = append(opts, schema.AllowAll())
		}
		res := schema.Compare(prev.Schema, current, opts...)
		if res.HasErrors() {
			return &SchemaDriftError{Result: res}
		}
		if res.HasWarnings() {
			db.log.Warn("Database schema drift", zap.String("report", res.String()))
		}
	}
	if err := storage.Add(ctx, current); err != nil {
		return fmt.Errorf("database: store schema snapshot: %w", err)
	}
	db.log.Debug("Database schema snapshot stored", zap.String("hash", hash), zap.Int("tables", len(current.Tables)))
	return nil
}

// gooseLogger writes the migration runner output to zap.
type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }

// Fatalf logs at error level: a failed migration is returned by UpContext.
func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Errorf(format, v...) }
