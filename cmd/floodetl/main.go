// Command floodetl runs the prediction backend: ingestion, queries, alert
// delivery and prediction events.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/flood-forecast-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/flood-forecast-etl/internal/alert"
	"github.com/couchcryptid/flood-forecast-etl/internal/config"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/service"
	"github.com/couchcryptid/flood-forecast-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, pool, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open prediction store", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	repo = store.NewCachedRepository(repo, cfg.StoreCacheSize, metrics)

	queue, dead, rdb, err := openAlerts(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open alert queue", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	opts := []service.Option{service.WithAlerts(queue)}
	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		opts = append(opts, service.WithEvents(writer))
		logger.Info("prediction events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("prediction events disabled")
	}

	svc := service.New(repo, logger, metrics, opts...)

	var notifier alert.Notifier = alert.NewLogNotifier(logger)
	if cfg.AlertWebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, cfg.AlertWebhookTimeout)
		logger.Info("alert webhook enabled", "url", cfg.AlertWebhookURL)
	}
	worker := alert.NewWorker(queue, notifier, dead, alert.WorkerConfig{
		MaxRetries: cfg.AlertMaxRetries,
		BaseDelay:  cfg.AlertBaseDelay,
	}, logger, metrics)

	var serverOpts []httpadapter.Option
	if cfg.StorageBackend == config.StorageLocal {
		serverOpts = append(serverOpts, httpadapter.WithArtifacts(cfg.LocalStorageDir))
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger, metrics, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		if mq, ok := queue.(*alert.MemoryQueue); ok {
			mq.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("backend error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openRepository returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise. The pool is nil for the memory store.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Repository, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory prediction store")
		return store.NewMemoryStore(), nil, nil
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using postgres prediction store")
	return store.NewPostgresStore(pool), pool, nil
}

// openAlerts returns the Redis queue and dead-letter list when REDIS_ADDR is
// set, and an in-process queue with log dead-lettering otherwise.
func openAlerts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (alert.Queue, alert.DeadLetter, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory alert queue", "size", cfg.AlertQueueSize)
		return alert.NewMemoryQueue(cfg.AlertQueueSize), alert.NewLogDeadLetter(logger), nil, nil
	}
	rdb, err := alert.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}
	q := alert.NewRedisQueue(rdb)
	logger.Info("using redis alert queue", "addr", cfg.RedisAddr, "key", alert.QueueKey)
	return q, q, rdb, nil
}
