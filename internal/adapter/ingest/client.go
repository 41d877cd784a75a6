// Package ingest delivers Prediction Records to the ingestion backend.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// Path is the ingestion route on the backend.
const Path = "/api/predictions/ingest"

// maxErrorBody caps how much of a failed response is kept in UpstreamError.
const maxErrorBody = 4 << 10

// UpstreamError reports a non-2xx response from the backend.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ingestion backend error: status %d: %s", e.StatusCode, e.Body)
}

// Client posts predictions to {baseURL}/api/predictions/ingest. Each call is
// a single attempt bounded by the client timeout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates an ingestion client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Ingest sends p and returns the backend's acknowledgment.
func (c *Client) Ingest(ctx context.Context, p domain.Prediction) (domain.IngestResponse, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return domain.IngestResponse{}, fmt.Errorf("encode prediction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return domain.IngestResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.IngestResponse{}, fmt.Errorf("connect to backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.IngestResponse{}, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out domain.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.IngestResponse{}, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info("prediction ingested",
		"prediction_id", out.PredictionID,
		"stored_id", out.StoredID,
		"status", out.Status,
		"duration", time.Since(start),
	)
	return out, nil
}
