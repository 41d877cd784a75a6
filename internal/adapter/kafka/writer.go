package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// PredictionEvent announces an ingested prediction to downstream consumers.
// It carries the summary only; consumers fetch the full record from the API.
type PredictionEvent struct {
	PredictionID       string          `json:"prediction_id"`
	StoredID           int64           `json:"stored_id"`
	ForecastCycle      string          `json:"forecast_cycle"`
	Basin              string          `json:"basin"`
	Region             string          `json:"region"`
	Severity           domain.Severity `json:"severity"`
	RiskScore          float64         `json:"risk_score"`
	PeakDepthM         float64         `json:"peak_depth_m"`
	AffectedAreaKm2    float64         `json:"affected_area_km2"`
	InferenceTimestamp time.Time       `json:"inference_timestamp"`
	IngestedAt         time.Time       `json:"ingested_at"`
}

// NewPredictionEvent summarizes p as stored under storedID.
func NewPredictionEvent(p domain.Prediction, storedID int64, ingestedAt time.Time) PredictionEvent {
	return PredictionEvent{
		PredictionID:       p.PredictionID,
		StoredID:           storedID,
		ForecastCycle:      p.ForecastCycle,
		Basin:              p.Location.Basin,
		Region:             p.Location.Region,
		Severity:           p.RiskAssessment.SeverityClass,
		RiskScore:          p.RiskAssessment.RiskScore,
		PeakDepthM:         p.AggregatedMetrics.PeakDepthMax,
		AffectedAreaKm2:    p.AggregatedMetrics.AffectedAreaKm2,
		InferenceTimestamp: p.InferenceTimestamp,
		IngestedAt:         ingestedAt,
	}
}

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces prediction events to a Kafka topic.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one event keyed by basin so a basin's events stay ordered
// within a partition.
func (w *Writer) Publish(ctx context.Context, event PredictionEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish prediction event %s: %w", event.PredictionID, err)
	}
	w.logger.Debug("prediction event published", "prediction_id", event.PredictionID, "severity", event.Severity)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a PredictionEvent into a Kafka message.
func serializeToMessage(event PredictionEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize prediction event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Basin),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "prediction_id", Value: []byte(event.PredictionID)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "ingested_at", Value: []byte(event.IngestedAt.Format(time.RFC3339))},
		},
	}, nil
}
