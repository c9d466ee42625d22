package results

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS comparison_results (
    key         text PRIMARY KEY,
    run_id      text NOT NULL DEFAULT '',
    file_name   text NOT NULL,
    file_size   bigint NOT NULL DEFAULT 0,
    compared_at timestamptz,
    succeeded   int NOT NULL DEFAULT 0,
    providers   int NOT NULL DEFAULT 0,
    document    jsonb NOT NULL,
    updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_comparison_results_compared_at ON comparison_results (compared_at DESC);
`

// PostgresStore keeps result documents in a jsonb column, with a few
// summary columns for ad-hoc queries.
type PostgresStore struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 8
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return &PostgresStore{Pool: pool, log: log.With().Str("component", "postgres-store").Logger()}, nil
}

// InitSchema creates the results table if it does not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	s.log.Debug().Msg("schema ready")
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *PostgresStore) Save(ctx context.Context, r *compare.ComparisonResult) error {
	key := r.Key()
	if err := checkKey(key); err != nil {
		return err
	}
	doc, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var comparedAt *time.Time
	if !r.Timestamp.IsZero() {
		comparedAt = &r.Timestamp
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO comparison_results (key, run_id, file_name, file_size, compared_at, succeeded, providers, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			compared_at = EXCLUDED.compared_at,
			succeeded = EXCLUDED.succeeded,
			providers = EXCLUDED.providers,
			document = EXCLUDED.document,
			updated_at = now()`,
		key, r.RunID, r.AudioName, r.FileSize, comparedAt, r.SuccessCount(), len(r.Outcomes), doc,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*compare.ComparisonResult, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.Pool.QueryRow(ctx, `SELECT document FROM comparison_results WHERE key = $1`, key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (s *PostgresStore) List(ctx context.Context) ([]*compare.ComparisonResult, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key, document FROM comparison_results ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*compare.ComparisonResult
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		r, err := decode(doc)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("skipping malformed result")
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Exists(ctx context.Context, key string) bool {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comparison_results WHERE key = $1)`, key).Scan(&exists)
	return err == nil && exists
}

func (s *PostgresStore) Type() string { return "postgres" }

func (s *PostgresStore) Close() {
	s.log.Info().Msg("closing database pool")
	s.Pool.Close()
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
