package results

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
)

// LocalStore stores result documents as <key>_results.json files.
type LocalStore struct {
	dir string
	log zerolog.Logger
}

// NewLocalStore creates a filesystem result store rooted at dir.
func NewLocalStore(dir string, log zerolog.Logger) *LocalStore {
	return &LocalStore{dir: dir, log: log.With().Str("component", "local-store").Logger()}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, key+FileSuffix)
}

func (s *LocalStore) Save(ctx context.Context, r *compare.ComparisonResult) error {
	key := r.Key()
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.write(key, data)
}

// write stores data atomically: temp file + rename.
func (s *LocalStore) write(key string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (*compare.ComparisonResult, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return r, nil
}

// List reads every result document in the directory. Unreadable documents
// are logged and skipped so one bad file does not hide the rest.
func (s *LocalStore) List(ctx context.Context) ([]*compare.ComparisonResult, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+FileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	out := make([]*compare.ComparisonResult, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable result")
			continue
		}
		r, err := decode(data)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("skipping malformed result")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	if !ValidKey(key) {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

func (s *LocalStore) Close() {}

// Dir returns the results directory path.
func (s *LocalStore) Dir() string { return s.dir }
