// Package store persists ingested Prediction Records.
package store

import (
	"context"
	"errors"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// ErrNotFound is returned when no prediction matches a lookup.
var ErrNotFound = errors.New("prediction not found")

// Repository stores predictions keyed by prediction id. Save is an upsert:
// re-ingesting an id replaces the record and keeps its stored id.
type Repository interface {
	Save(ctx context.Context, p domain.Prediction) (storedID int64, err error)
	Get(ctx context.Context, predictionID string) (domain.Prediction, error)
	// LatestByBasin matches basin case-insensitively and returns the record
	// with the newest inference timestamp.
	LatestByBasin(ctx context.Context, basin string) (domain.Prediction, error)
	// List returns every record in stored id order.
	List(ctx context.Context) ([]domain.Prediction, error)
	Ping(ctx context.Context) error
}
