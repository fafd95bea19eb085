// Command quarry inspects, migrates and repairs a database.
//
//	quarry inspect --table articles
//	quarry migrate
//	quarry repair all --schedule "@every 6h"
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syssam/quarry/database"
	"github.com/syssam/quarry/internal/logging"
	"github.com/syssam/quarry/metadata"
)

var (
	configFile string
	envFiles   []string
	logLevel   string

	cfg    *Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "quarry",
	Short:         "Database maintenance for content models",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = loadConfig(configFile, envFiles...); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default quarry.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files loaded before the configuration (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level overriding the configuration")
	rootCmd.AddCommand(inspectCmd(), migrateCmd(), repairCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDatabase opens the configured database. The caller destroys it.
func openDatabase(ctx context.Context, opts ...database.Option) (*database.Database, error) {
	return database.New(ctx, cfg.Database, append([]database.Option{database.WithLogger(logger)}, opts...)...)
}

// initDatabase opens the configured database and initializes it with the
// configured models.
func initDatabase(ctx context.Context, opts ...database.Option) (*database.Database, error) {
	reg, err := metadata.LoadFile(cfg.Models)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx, reg); err != nil {
		return nil, errors.Join(err, db.Destroy(ctx))
	}
	return db, nil
}
