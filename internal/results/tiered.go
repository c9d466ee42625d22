package results

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
)

// TieredStore combines local disk (source of truth) with S3 (backup/durability).
// Write path: save locally first, then push to S3.
// Read path: local first, S3 fallback with cache-on-read.
type TieredStore struct {
	s3    *S3Store
	local *LocalStore
	log   zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + S3-backup store.
func NewTieredStore(s3 *S3Store, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		s3:    s3,
		local: local,
		log:   log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save writes to local disk first (fatal on failure), then S3 (warning on failure).
func (s *TieredStore) Save(ctx context.Context, r *compare.ComparisonResult) error {
	if err := s.local.Save(ctx, r); err != nil {
		return err
	}
	if err := s.s3.Save(ctx, r); err != nil {
		s.log.Warn().Err(err).Str("key", r.Key()).Msg("S3 backup write failed")
	}
	return nil
}

// Get checks local disk first, then falls back to S3. On an S3 hit the
// result is cached locally for future reads.
func (s *TieredStore) Get(ctx context.Context, key string) (*compare.ComparisonResult, error) {
	r, err := s.local.Get(ctx, key)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.log.Warn().Err(err).Str("key", key).Msg("local read failed, trying S3")
	}
	r, err = s.s3.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.local.Save(ctx, r); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache S3 result locally")
	}
	return r, nil
}

// List returns the S3 listing, which holds every result ever written,
// including those whose local copy was removed.
func (s *TieredStore) List(ctx context.Context) ([]*compare.ComparisonResult, error) {
	rs, err := s.s3.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("S3 list failed, falling back to local results")
		return s.local.List(ctx)
	}
	return rs, nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	if s.local.Exists(ctx, key) {
		return true
	}
	return s.s3.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }

func (s *TieredStore) Close() {}
