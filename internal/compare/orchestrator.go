package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/stt-compare/internal/metrics"
	"github.com/snarg/stt-compare/internal/transcribe"
)

// Options configures an Orchestrator.
type Options struct {
	// Concurrency caps parallel provider calls per file. 0 runs every
	// provider at once; 1 runs them one after another.
	Concurrency int
	// ProviderTimeout bounds a single provider call. 0 means no extra bound
	// beyond the provider's own poll timeout.
	ProviderTimeout time.Duration
	Log             zerolog.Logger

	now func() time.Time
}

// Orchestrator runs a fixed set of providers against audio files and
// collects one Outcome per provider.
type Orchestrator struct {
	providers []transcribe.Provider
	opts      Options
	log       zerolog.Logger
}

// New returns an Orchestrator for providers. The set must be non-empty and
// provider ids unique.
func New(providers []transcribe.Provider, opts Options) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", transcribe.ErrConfiguration)
	}
	seen := make(map[transcribe.ProviderID]bool, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: nil provider", transcribe.ErrConfiguration)
		}
		if seen[p.ID()] {
			return nil, fmt.Errorf("%w: duplicate provider %q", transcribe.ErrConfiguration, p.ID())
		}
		seen[p.ID()] = true
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Orchestrator{
		providers: append([]transcribe.Provider(nil), providers...),
		opts:      opts,
		log:       opts.Log,
	}, nil
}

// Providers returns the ids of the configured providers in construction order.
func (o *Orchestrator) Providers() []transcribe.ProviderID {
	ids := make([]transcribe.ProviderID, len(o.providers))
	for i, p := range o.providers {
		ids[i] = p.ID()
	}
	return ids
}

// Compare runs every provider against audio and returns one outcome per
// provider. A provider that errors, times out or panics yields a failed
// outcome and does not affect the others. Compare itself never fails.
func (o *Orchestrator) Compare(ctx context.Context, audio transcribe.Audio) *ComparisonResult {
	result := &ComparisonResult{
		RunID:     uuid.NewString(),
		AudioName: audio.Name,
		FileSize:  audio.Size,
		Timestamp: o.opts.now(),
	}

	outcomes := make([]Outcome, len(o.providers))
	var g errgroup.Group
	if o.opts.Concurrency > 0 {
		g.SetLimit(o.opts.Concurrency)
	}
	for i, p := range o.providers {
		g.Go(func() error {
			outcomes[i] = o.run(ctx, p, audio)
			return nil
		})
	}
	g.Wait()

	result.Outcomes = make(map[transcribe.ProviderID]Outcome, len(outcomes))
	for _, oc := range outcomes {
		result.Outcomes[oc.Provider] = oc
	}
	metrics.ComparisonsTotal.Inc()

	o.log.Info().
		Str("run_id", result.RunID).
		Str("file", audio.Name).
		Int("providers", len(outcomes)).
		Int("succeeded", result.SuccessCount()).
		Msg("comparison complete")
	return result
}

func (o *Orchestrator) run(ctx context.Context, p transcribe.Provider, audio transcribe.Audio) (out Outcome) {
	id := p.ID()
	log := o.log.With().Str("provider", string(id)).Str("file", audio.Name).Logger()

	pctx := ctx
	if o.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, o.opts.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = failed(id, fmt.Sprintf("provider panicked: %v", r), time.Since(start))
		}
		metrics.ObserveTranscription(string(id), out.Succeeded, time.Since(start))
		if out.Succeeded {
			log.Info().Float64("processing_time", out.ProcessingTime).Float64("confidence", out.Confidence).Msg("transcription succeeded")
		} else {
			log.Warn().Str("error", out.Error).Msg("transcription failed")
		}
	}()

	t, err := p.Transcribe(pctx, audio)
	elapsed := time.Since(start)
	if err != nil {
		return failed(id, o.describe(ctx, pctx, err), elapsed)
	}
	if t == nil {
		return failed(id, "provider returned no transcript", elapsed)
	}
	return Outcome{
		Provider:       id,
		Succeeded:      true,
		Transcript:     t.Text,
		Confidence:     min(max(t.Confidence, 0), 1),
		ProcessingTime: elapsed.Seconds(),
	}
}

// describe turns err into the message stored on a failed outcome, naming
// the per-provider deadline when that is what ended the call.
func (o *Orchestrator) describe(ctx, pctx context.Context, err error) string {
	if ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s: %v", o.opts.ProviderTimeout, err)
	}
	return err.Error()
}

func failed(id transcribe.ProviderID, msg string, elapsed time.Duration) Outcome {
	if msg == "" {
		msg = "unknown error"
	}
	return Outcome{Provider: id, Succeeded: false, Error: msg, ProcessingTime: elapsed.Seconds()}
}
