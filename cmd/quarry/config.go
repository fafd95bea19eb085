package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/syssam/quarry/database"
	"github.com/syssam/quarry/internal/logging"
)

// Config is the configuration of the command line tool.
type Config struct {
	Database database.Config `mapstructure:"database"`
	Log      logging.Config  `mapstructure:"log"`
	// Models is the YAML file describing the content models.
	Models string `mapstructure:"models"`
}

// loadConfig reads the configuration from the YAML file at path (or
// quarry.yaml in the working directory or /etc/quarry), then from QUARRY_
// prefixed environment variables. Variables of the env files are loaded
// first and never override the environment.
func loadConfig(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("quarry")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/quarry/")
	}
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)

	v.SetDefault("models", "models.yaml")

	v.SetDefault("database.connection.client", "sqlite")
	v.SetDefault("database.connection.filename", ".tmp/data.db")
	v.SetDefault("database.connection.dsn", "")
	v.SetDefault("database.connection.driver", "")
	v.SetDefault("database.connection.host", "")
	v.SetDefault("database.connection.port", 0)
	v.SetDefault("database.connection.database", "")
	v.SetDefault("database.connection.user", "")
	v.SetDefault("database.connection.password", "")
	v.SetDefault("database.connection.schema", "")
	v.SetDefault("database.connection.ssl_mode", "")
	v.SetDefault("database.connection.pool.min", 0)
	v.SetDefault("database.connection.pool.max", 0)

	v.SetDefault("database.settings.force_migration", false)
	v.SetDefault("database.settings.run_migrations", false)
	v.SetDefault("database.settings.migrations.dir", database.DefaultMigrationsDir)
	v.SetDefault("database.settings.slow_query_threshold", "100ms")
	v.SetDefault("database.settings.inspect_concurrency", 4)
	v.SetDefault("database.settings.ping_retries", 3)
	v.SetDefault("database.settings.repair.tx_per_join_table", false)
}

// loadDotEnv loads the existing env files. Without files it loads .env
// from the working directory when present.
func loadDotEnv(files ...string) error {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicit {
				continue
			}
			return fmt.Errorf("stat %s: %w", file, err)
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}
