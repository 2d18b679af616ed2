package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"kasirinaja/posledger/internal/cache"
	"kasirinaja/posledger/internal/config"
	"kasirinaja/posledger/internal/obs"
	"kasirinaja/posledger/internal/receipt"
	"kasirinaja/posledger/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("REDIS_ADDR is required for the receipt worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	metrics, err := obs.NewLedgerMetrics(cfg.MetricsNamespace, reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := sqlstore.Open(openCtx, sqlstore.Options{Driver: cfg.DBDriver, DSN: cfg.DSN()})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	defer db.Close()

	snapshots := cache.NewRedisSaleSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer snapshots.Close()
	if err := snapshots.Ping(openCtx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	handler := receipt.NewSnapshotHandler(db, snapshots, cfg.ReceiptSnapshotTTL, logger, metrics)
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency:     4,
			Queues:          map[string]int{receipt.QueueName: 1},
			Logger:          asynqLogger{logger: logger},
			ShutdownTimeout: 8 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				logger.Warn().Err(err).Str("type", task.Type()).Msg("receipt_task_failed")
			}),
		},
	)
	if err := srv.Start(receipt.NewServeMux(handler)); err != nil {
		return fmt.Errorf("start asynq: %w", err)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddress(), Handler: obs.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("worker_metrics_listener_failed")
		}
	}()

	logger.Info().Str("queue", receipt.QueueName).Msg("worker starting")
	<-ctx.Done()

	srv.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
