package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syssam/quarry/database"
	"github.com/syssam/quarry/repair"
)

// repairJob runs one repair operation and reports what it deleted.
type repairJob func(ctx context.Context, r *repair.Repairer) (string, error)

func repairCmd() *cobra.Command {
	var (
		schedule    string
		timeout     time.Duration
		pivot       string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Remove inconsistent relation rows",
	}
	cmd.PersistentFlags().StringVar(&schedule, "schedule", "", `cron expression or descriptor running the repair periodically, e.g. "@every 6h"`)
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "timeout of one repair run")
	cmd.PersistentFlags().StringVar(&pivot, "pivot", repair.DefaultMorphPivot, "pivot column holding morph types")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", `address serving /metrics of scheduled repairs, e.g. ":9090"`)

	sub := func(use, short string, job repairJob) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if metricsAddr != "" && schedule == "" {
					return errors.New("--metrics-addr requires --schedule")
				}
				ctx := cmd.Context()
				var (
					opts    []database.Option
					metrics *prometheus.Registry
				)
				if metricsAddr != "" {
					metrics = prometheus.NewRegistry()
					metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
					opts = append(opts, database.WithMetrics(metrics))
				}
				db, err := initDatabase(ctx, opts...)
				if err != nil {
					return err
				}
				defer db.Destroy(ctx)
				if metrics != nil {
					srv, addr, err := serveMetrics(metricsAddr, metrics)
					if err != nil {
						return err
					}
					logger.Info("Serving metrics", zap.String("addr", addr))
					defer shutdown(srv)
				}
				run := func(ctx context.Context) error {
					ctx, cancel := context.WithTimeout(ctx, timeout)
					defer cancel()
					summary, err := job(ctx, db.Repair())
					if err != nil {
						return err
					}
					cmd.Println(summary)
					return nil
				}
				if schedule == "" {
					return run(ctx)
				}
				return scheduled(ctx, db, schedule, run)
			},
		}
	}
	cmd.AddCommand(
		sub("orphans", "Remove ghost relations of unidirectional relations", func(ctx context.Context, r *repair.Repairer) (string, error) {
			n, err := r.RemoveOrphanUnidirectionalRelations(ctx)
			return fmt.Sprintf("removed %d orphan unidirectional relations", n), err
		}),
		sub("morph-types", "Remove morph relations to unknown models", func(ctx context.Context, r *repair.Repairer) (string, error) {
			n, err := r.RemoveOrphanMorphTypes(ctx, pivot)
			return fmt.Sprintf("removed %d orphan morph relations", n), err
		}),
		sub("all", "Run every repair operation", func(ctx context.Context, r *repair.Repairer) (string, error) {
			rep, err := r.RunAll(ctx, pivot)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("removed %d orphan unidirectional relations and %d orphan morph relations",
				rep.UnidirectionalRelations, rep.MorphTypes), nil
		}),
	)
	return cmd
}

// serveMetrics serves the metrics of reg on /metrics at addr and returns
// the address it listens on.
func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv, ln.Addr().String(), nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}

// scheduled runs fn on the cron schedule until ctx is done. Runs do not
// overlap.
func scheduled(ctx context.Context, db *database.Database, spec string, fn func(context.Context) error) error {
	log := cronLogger{logger.Sugar()}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(ctx); err != nil {
			logger.Error("Repair failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			return
		}
		logger.Info("Repair completed", zap.Duration("elapsed", time.Since(start)), zap.Stringer("stats", db.Stats()))
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	logger.Info("Repair scheduled", zap.String("schedule", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger writes the scheduler output to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) { l.log.Debugw(msg, keysAndValues...) }

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
