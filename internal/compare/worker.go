package compare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/audio"
)

// ErrPoolStopped is returned when a job is submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one audio file to compare.
type Job struct {
	Path   string
	Source string // "cli", "api", "watch"
}

// QueueStats reports the current state of the comparison queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// Sink persists finished comparisons.
type Sink interface {
	Save(ctx context.Context, r *ComparisonResult) error
}

// PublishFunc is called after a comparison has been saved.
type PublishFunc func(r *ComparisonResult)

// WorkerPoolOptions configures the comparison worker pool.
type WorkerPoolOptions struct {
	Orchestrator *Orchestrator
	Sink         Sink // optional
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // per file; 0 = no limit beyond provider timeouts
	Publish      PublishFunc
	Log          zerolog.Logger
}

// WorkerPool runs whole-file comparisons on a fixed number of workers fed
// from a bounded queue.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex // guards close(jobs) against concurrent sends
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new comparison worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("comparison worker pool started")
}

// Stop stops accepting jobs, lets workers drain the queue and waits for them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("comparison worker pool stopped")
}

// Abort cancels in-flight comparisons, then stops the pool.
func (wp *WorkerPool) Abort() {
	wp.cancel()
	wp.Stop()
}

// Enqueue adds a job to the queue. Returns false if the queue is full or the
// pool has been stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Submit adds a job to the queue, waiting for room until ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, j Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Workers:   wp.opts.Workers,
	}
}

func (wp *WorkerPool) Pending() int     { return len(wp.jobs) }
func (wp *WorkerPool) Completed() int64 { return wp.completed.Load() }
func (wp *WorkerPool) Failed() int64    { return wp.failed.Load() }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		if err := wp.processJob(log, job); err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).
				Str("path", job.Path).
				Str("source", job.Source).
				Msg("comparison failed")
		} else {
			wp.completed.Add(1)
		}
	}
}

func (wp *WorkerPool) processJob(log zerolog.Logger, job Job) error {
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a, err := audio.Open(job.Path)
	if err != nil {
		return err
	}

	r := wp.opts.Orchestrator.Compare(ctx, a)
	if err := wp.ctx.Err(); err != nil {
		// Aborted runs are not saved.
		return fmt.Errorf("comparison of %s interrupted: %w", a.Name, err)
	}

	// A job timeout still saves the outcomes it produced, so the save runs
	// on the pool context rather than the expired job context.
	if wp.opts.Sink != nil {
		if err := wp.opts.Sink.Save(wp.ctx, r); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
	}
	if wp.opts.Publish != nil {
		wp.opts.Publish(r)
	}

	log.Debug().
		Str("run_id", r.RunID).
		Str("file", r.AudioName).
		Int("succeeded", r.SuccessCount()).
		Int("providers", len(r.Outcomes)).
		Msg("job complete")
	return nil
}
