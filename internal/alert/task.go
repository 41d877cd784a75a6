// Package alert queues and delivers notifications for high-risk predictions.
//
// Ingestion enqueues a Task and returns; a Worker drains the queue and hands
// each task to a Notifier. Delivery is at-most-once per dequeue with bounded
// in-worker retries. Tasks that exhaust their retries go to a DeadLetter sink.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// Task is one pending notification.
type Task struct {
	ID              string          `json:"id"`
	PredictionID    string          `json:"prediction_id"`
	Region          string          `json:"region"`
	Basin           string          `json:"basin"`
	Severity        domain.Severity `json:"severity"`
	RiskScore       float64         `json:"risk_score"`
	PeakDepthM      float64         `json:"peak_depth_m"`
	AffectedAreaKm2 float64         `json:"affected_area_km2"`
	PeakTimestamp   time.Time       `json:"peak_timestamp"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewTask builds the alert for p.
func NewTask(p domain.Prediction) Task {
	return Task{
		ID:              uuid.NewString(),
		PredictionID:    p.PredictionID,
		Region:          p.Location.Region,
		Basin:           p.Location.Basin,
		Severity:        p.RiskAssessment.SeverityClass,
		RiskScore:       p.RiskAssessment.RiskScore,
		PeakDepthM:      p.AggregatedMetrics.PeakDepthMax,
		AffectedAreaKm2: p.AggregatedMetrics.AffectedAreaKm2,
		PeakTimestamp:   p.AggregatedMetrics.PeakTimestamp,
		CreatedAt:       domain.Now(),
	}
}

// Enqueuer accepts tasks for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Queue is an Enqueuer that a Worker can drain. Dequeue blocks until a task
// is available or ctx is done.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context) (Task, error)
}

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, t Task) error
}

// DeadLetter receives tasks that could not be delivered.
type DeadLetter interface {
	DeadLetter(ctx context.Context, t Task, cause error) error
}
