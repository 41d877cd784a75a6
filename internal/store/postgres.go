package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// DSN to the scheme of the pgx v5 driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps each prediction as a JSONB document plus the columns
// used for lookups.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps a pool whose schema has been migrated.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, p domain.Prediction) (int64, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode prediction %s: %w", p.PredictionID, err)
	}
	const query = `
		INSERT INTO predictions (prediction_id, basin, region, severity_class, risk_score, inference_timestamp, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prediction_id) DO UPDATE SET
			basin = EXCLUDED.basin,
			region = EXCLUDED.region,
			severity_class = EXCLUDED.severity_class,
			risk_score = EXCLUDED.risk_score,
			inference_timestamp = EXCLUDED.inference_timestamp,
			document = EXCLUDED.document,
			updated_at = now()
		RETURNING stored_id`

	var storedID int64
	err = s.db.QueryRow(ctx, query,
		p.PredictionID,
		p.Location.Basin,
		p.Location.Region,
		string(p.RiskAssessment.SeverityClass),
		p.RiskAssessment.RiskScore,
		p.InferenceTimestamp,
		doc,
	).Scan(&storedID)
	if err != nil {
		return 0, fmt.Errorf("save prediction %s: %w", p.PredictionID, err)
	}
	return storedID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.db.QueryRow(ctx, `SELECT document FROM predictions WHERE prediction_id = $1`, id)
	p, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("get prediction %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) LatestByBasin(ctx context.Context, basin string) (domain.Prediction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT document FROM predictions
		WHERE lower(basin) = lower($1)
		ORDER BY inference_timestamp DESC, stored_id DESC
		LIMIT 1`, basin)
	p, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, fmt.Errorf("%w for basin %s", ErrNotFound, basin)
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("latest prediction for basin %s: %w", basin, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.Prediction, error) {
	rows, err := s.db.Query(ctx, `SELECT document FROM predictions ORDER BY stored_id`)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list predictions: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanDocument(row pgx.Row) (domain.Prediction, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return domain.Prediction{}, err
	}
	var p domain.Prediction
	if err := json.Unmarshal(doc, &p); err != nil {
		return domain.Prediction{}, fmt.Errorf("decode document: %w", err)
	}
	return p, nil
}
