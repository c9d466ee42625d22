// Package results persists comparison results. Each result is stored under
// the stem of its audio file name, so re-running a file replaces its result.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/config"
	"github.com/snarg/stt-compare/internal/metrics"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("result not found")

// FileSuffix is appended to the key to form a result document name.
const FileSuffix = "_results.json"

// Store abstracts result storage backends.
type Store interface {
	// Save writes r under r.Key(), replacing any earlier result.
	Save(ctx context.Context, r *compare.ComparisonResult) error

	// Get returns the result stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (*compare.ComparisonResult, error)

	// List returns every stored result, ordered by key.
	List(ctx context.Context) ([]*compare.ComparisonResult, error)

	// Exists reports whether a result is stored under key.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", "tiered" or "postgres".
	Type() string

	Close()
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // local, s3, postgres
	Dir         string // results directory for local and tiered stores
	S3          config.S3Config
	DatabaseURL string
	Log         zerolog.Logger
}

// New creates a Store for opts.Backend. S3 and Postgres backends are checked
// for reachability before returning.
func New(ctx context.Context, opts Options) (Store, error) {
	var s Store
	switch opts.Backend {
	case "", "local":
		s = NewLocalStore(opts.Dir, opts.Log)

	case "s3":
		s3store, err := NewS3Store(opts.S3, opts.Log)
		if err != nil {
			return nil, fmt.Errorf("S3 init failed: %w", err)
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s3store.HeadBucket(checkCtx); err != nil {
			return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
				opts.S3.Bucket, opts.S3.Endpoint, err)
		}
		opts.Log.Info().Str("bucket", opts.S3.Bucket).Str("endpoint", opts.S3.Endpoint).Msg("S3 connection verified")
		s = s3store
		if opts.S3.LocalCache {
			s = NewTieredStore(s3store, NewLocalStore(opts.Dir, opts.Log), opts.Log)
		}

	case "postgres":
		pg, err := Connect(ctx, opts.DatabaseURL, opts.Log)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pg.InitSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
		s = pg

	default:
		return nil, fmt.Errorf("unknown result store %q", opts.Backend)
	}
	return &instrumented{Store: s}, nil
}

// instrumented counts saves per backend.
type instrumented struct {
	Store
}

func (s *instrumented) Save(ctx context.Context, r *compare.ComparisonResult) error {
	err := s.Store.Save(ctx, r)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ResultsSavedTotal.WithLabelValues(s.Store.Type(), outcome).Inc()
	return err
}

// Unwrap returns the underlying backend.
func (s *instrumented) Unwrap() Store { return s.Store }

// Unwrap returns the backend beneath any wrappers added by New.
func Unwrap(s Store) Store {
	for {
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// ValidKey reports whether key can name a stored result. Keys come from
// request paths, so anything that could escape the results directory is
// rejected.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.Contains(key, "\x00")
}

// KeyFromName strips the result suffix from a document name, returning
// false if name is not a result document.
func KeyFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, FileSuffix) {
		return "", false
	}
	key := strings.TrimSuffix(name, FileSuffix)
	return key, ValidKey(key)
}

func encode(r *compare.ComparisonResult) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func decode(data []byte) (*compare.ComparisonResult, error) {
	var r compare.ComparisonResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	return nil
}
