//go:build integration

package integration_test

import (
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

var forecastStart = time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func prediction(id, basin string, hoursAfter int, severity domain.Severity, score float64) domain.Prediction {
	return domain.Prediction{
		PredictionID:       id,
		ForecastCycle:      domain.ForecastCycle(forecastStart),
		ModelVersion:       "v2.3.1",
		InferenceTimestamp: forecastStart.Add(time.Duration(hoursAfter) * time.Hour),
		Location: domain.Location{
			Basin:  basin,
			Region: "Kolkata Metropolitan Area",
			Bounds: domain.Bounds{West: 88.25, South: 22.45, East: 88.50, North: 22.70},
		},
		AggregatedMetrics: domain.GridMetrics{PeakDepthMax: 2.4, AffectedAreaKm2: 61.5},
		RiskAssessment:    domain.RiskAssessment{RiskScore: score, SeverityClass: severity, Confidence: 0.92},
	}
}
