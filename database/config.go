package database

import (
	"time"

	"github.com/syssam/quarry/dialect"
)

// DefaultMigrationsDir is the directory of the SQL migrations run by Init
// when Settings.RunMigrations is set and no directory is configured.
const DefaultMigrationsDir = "database/migrations"

// Config configures a Database.
type Config struct {
	Connection dialect.Connection `mapstructure:"connection" yaml:"connection"`
	Settings   Settings           `mapstructure:"settings" yaml:"settings"`
}

// Settings holds the behavior of Init and of the connection pool.
type Settings struct {
	// ForceMigration accepts breaking schema drift instead of failing Init.
	ForceMigration bool `mapstructure:"force_migration" yaml:"force_migration"`
	// RunMigrations runs the pending migrations of Migrations.Dir in Init.
	RunMigrations bool       `mapstructure:"run_migrations" yaml:"run_migrations"`
	Migrations    Migrations `mapstructure:"migrations" yaml:"migrations"`

	// SlowQueryThreshold is the duration above which statements are logged
	// as slow. Default is 100ms.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold,omitempty"`
	// InspectConcurrency bounds the tables inspected concurrently. Default is 4.
	InspectConcurrency int `mapstructure:"inspect_concurrency" yaml:"inspect_concurrency,omitempty"`
	// PingRetries is the number of retries of the initial ping.
	PingRetries int `mapstructure:"ping_retries" yaml:"ping_retries,omitempty"`

	Repair Repair `mapstructure:"repair" yaml:"repair,omitempty"`
}

// Repair configures the repair operations.
type Repair struct {
	// TxPerJoinTable detects and deletes the ghost relations of each join
	// table in one transaction.
	TxPerJoinTable bool `mapstructure:"tx_per_join_table" yaml:"tx_per_join_table,omitempty"`
}

// Migrations locates the migration files.
type Migrations struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

func (s Settings) migrationsDir() string {
	if s.Migrations.Dir != "" {
		return s.Migrations.Dir
	}
	return DefaultMigrationsDir
}
