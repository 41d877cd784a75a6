package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
)

const (
	maxBackoff        = 30 * time.Second
	deadLetterTimeout = 5 * time.Second
)

// WorkerConfig bounds delivery attempts.
type WorkerConfig struct {
	// MaxRetries is the total number of delivery attempts per task.
	MaxRetries int
	// BaseDelay is the wait after the first failure; it doubles per retry.
	BaseDelay time.Duration
}

// Worker drains a Queue into a Notifier.
type Worker struct {
	queue    Queue
	notifier Notifier
	dead     DeadLetter
	cfg      WorkerConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewWorker creates a worker. MaxRetries below 1 is treated as 1.
func NewWorker(q Queue, n Notifier, dead DeadLetter, cfg WorkerConfig, logger *slog.Logger, metrics *observability.Metrics) *Worker {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Worker{
		queue:    q,
		notifier: n,
		dead:     dead,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run processes tasks until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("alert worker started", "max_retries", w.cfg.MaxRetries)
	w.metrics.AlertWorkerRunning.Set(1)
	defer w.metrics.AlertWorkerRunning.Set(0)

	for {
		t, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
			w.deliver(ctx, t)
		case ctx.Err() != nil:
			w.logger.Info("alert worker stopping", "reason", ctx.Err())
			return nil
		case errors.Is(err, ErrQueueClosed):
			w.logger.Info("alert worker stopping", "reason", err)
			return nil
		case errors.Is(err, ErrMalformedTask):
			w.logger.Warn("skipping malformed alert task", "error", err)
		default:
			w.logger.Error("dequeue alert failed", "error", err)
			if !retry.SleepWithContext(ctx, w.cfg.BaseDelay) {
				return nil
			}
		}
	}
}

// deliver tries the notifier up to MaxRetries times with exponential
// backoff, then dead-letters the task.
func (w *Worker) deliver(ctx context.Context, t Task) {
	log := w.logger.With("task_id", t.ID, "prediction_id", t.PredictionID, "severity", t.Severity)
	delay := w.cfg.BaseDelay

	var err error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if err = w.notifier.Notify(ctx, t); err == nil {
			w.metrics.AlertsDelivered.Inc()
			log.Debug("alert delivered", "attempt", attempt)
			return
		}
		if attempt == w.cfg.MaxRetries {
			break
		}
		w.metrics.AlertRetries.Inc()
		log.Warn("alert delivery failed, retrying", "error", err, "attempt", attempt, "retry_in", delay)
		if !retry.SleepWithContext(ctx, delay) || ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
			break
		}
		delay = retry.NextBackoff(delay, maxBackoff)
	}

	log.Error("alert delivery exhausted", "error", err, "attempts", w.cfg.MaxRetries)
	w.metrics.AlertsDeadLettered.Inc()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if derr := w.dead.DeadLetter(dctx, t, err); derr != nil {
		log.Error("dead-letter alert failed", "error", derr)
	}
}
