// Package config loads settings for the backend and the post-processing CLI
// from environment variables, an optional .env file and an optional YAML
// scoring file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

const defaultRasterWorkers = 4

// Config holds all settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DatabaseURL selects Postgres; empty keeps predictions in memory.
	DatabaseURL    string
	StoreCacheSize int

	// RedisAddr selects the Redis alert queue; empty uses an in-process queue.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AlertWebhookURL     string
	AlertWebhookSecret  string
	AlertWebhookTimeout time.Duration
	AlertMaxRetries     int
	AlertBaseDelay      time.Duration
	AlertQueueSize      int

	// KafkaBrokers enables prediction events when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	BackendURL    string
	IngestTimeout time.Duration

	StorageBackend       string
	S3Bucket             string
	S3Region             string
	StoragePublicBaseURL string
	LocalStorageDir      string

	ArcGISURL     string
	DataDir       string
	RasterWorkers int

	Metrics   domain.MetricsConfig
	Scoring   domain.ScoringConfig
	Timesteps domain.TimestepSelection
}

// scoringFile is the layout of SCORING_CONFIG. Keys left out keep their
// environment or default values.
type scoringFile struct {
	Metrics   *domain.MetricsConfig     `yaml:"metrics"`
	Scoring   *domain.ScoringConfig     `yaml:"scoring"`
	Timesteps *domain.TimestepSelection `yaml:"timesteps"`
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is loaded first; variables
// already set take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var p parser
	metrics := domain.DefaultMetricsConfig()
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoreCacheSize: p.intAtLeast("STORE_CACHE_SIZE", 256, 0),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.intAtLeast("REDIS_DB", 0, 0),

		AlertWebhookURL:     os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret:  os.Getenv("ALERT_WEBHOOK_SECRET"),
		AlertWebhookTimeout: p.duration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second),
		AlertMaxRetries:     p.intAtLeast("ALERT_MAX_RETRIES", 3, 1),
		AlertBaseDelay:      p.duration("ALERT_BASE_DELAY", 500*time.Millisecond),
		AlertQueueSize:      p.intAtLeast("ALERT_QUEUE_SIZE", 100, 1),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "flood-predictions"),

		BackendURL:    sharedcfg.EnvOrDefault("BACKEND_URL", "http://localhost:8080"),
		IngestTimeout: p.duration("INGEST_TIMEOUT", 30*time.Second),

		StorageBackend:       strings.ToLower(sharedcfg.EnvOrDefault("STORAGE_BACKEND", StorageLocal)),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3Region:             sharedcfg.EnvOrDefault("S3_REGION", "ap-south-1"),
		StoragePublicBaseURL: os.Getenv("STORAGE_PUBLIC_BASE_URL"),
		LocalStorageDir:      sharedcfg.EnvOrDefault("LOCAL_STORAGE_DIR", "./data/artifacts"),

		ArcGISURL:     os.Getenv("ARCGIS_URL"),
		DataDir:       sharedcfg.EnvOrDefault("DATA_DIR", "./data"),
		RasterWorkers: p.intAtLeast("RASTER_WORKERS", defaultRasterWorkers, 1),

		Metrics: domain.MetricsConfig{
			FloodThresholdM:   p.float("FLOOD_THRESHOLD_M", metrics.FloodThresholdM),
			GroundResolutionM: p.float("GROUND_RESOLUTION_M", metrics.GroundResolutionM),
		},
		Scoring:   domain.DefaultScoringConfig(),
		Timesteps: domain.DefaultTimestepSelection(),
	}
	if p.err != nil {
		return nil, p.err
	}

	if path := os.Getenv("SCORING_CONFIG"); path != "" {
		if err := cfg.applyScoringFile(path); err != nil {
			return nil, fmt.Errorf("SCORING_CONFIG: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PublicBaseURL is the prefix of artifact URLs. Local storage defaults to
// the backend's /artifacts route.
func (c *Config) PublicBaseURL() string {
	if c.StoragePublicBaseURL != "" {
		return c.StoragePublicBaseURL
	}
	if c.StorageBackend == StorageLocal {
		return strings.TrimRight(c.BackendURL, "/") + "/artifacts"
	}
	return ""
}

func (c *Config) applyScoringFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f := scoringFile{Metrics: &c.Metrics, Scoring: &c.Scoring, Timesteps: &c.Timesteps}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageLocal:
	case StorageS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: want local or s3", c.StorageBackend)
	}
	if c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required")
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("FLOOD_THRESHOLD_M/GROUND_RESOLUTION_M: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("SCORING_CONFIG: %w", err)
	}
	if c.Timesteps.HourlyUntil < 0 || c.Timesteps.Step < 1 {
		return fmt.Errorf("SCORING_CONFIG: timesteps need hourly_until >= 0 and step >= 1, got %d and %d",
			c.Timesteps.HourlyUntil, c.Timesteps.Step)
	}
	return nil
}

// parser records the first malformed variable so Load can read every
// setting in one literal.
type parser struct {
	err error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" || p.err != nil {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.err = fmt.Errorf("invalid %s %q: must be a positive duration", key, s)
		return fallback
	}
	return d
}

func (p *parser) intAtLeast(key string, fallback, minimum int) int {
	s := os.Getenv(key)
	if s == "" || p.err != nil {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		p.err = fmt.Errorf("invalid %s %q: must be an integer >= %d", key, s, minimum)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" || p.err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: must be a number", key, s)
		return fallback
	}
	return f
}
