package compare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/transcribe"
)

type memSink struct {
	mu    sync.Mutex
	saved []*ComparisonResult
}

func (m *memSink) Save(_ context.Context, r *ComparisonResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

func newTestPool(t *testing.T, workers, queueSize int, sink Sink) *WorkerPool {
	t.Helper()
	o, err := New([]transcribe.Provider{&stubProvider{id: "a", text: "hi", conf: 0.5}}, Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	return NewWorkerPool(WorkerPoolOptions{
		Orchestrator: o,
		Sink:         sink,
		Workers:      workers,
		QueueSize:    queueSize,
		Log:          zerolog.Nop(),
	})
}

func TestNewWorkerPool(t *testing.T) {
	wp := newTestPool(t, 4, 100, nil)
	if cap(wp.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(wp.jobs))
	}
}

func TestWorkerPool_EnqueueBeforeStart(t *testing.T) {
	wp := newTestPool(t, 2, 5, nil)
	// Enqueue works before Start; the job is buffered.
	if !wp.Enqueue(Job{Path: "a.mp3"}) {
		t.Error("Enqueue should return true when queue has space")
	}
}

func TestWorkerPool_EnqueueFull(t *testing.T) {
	wp := newTestPool(t, 0, 2, nil) // 0 workers = nobody draining

	wp.Enqueue(Job{Path: "1.mp3"})
	wp.Enqueue(Job{Path: "2.mp3"})

	if wp.Enqueue(Job{Path: "3.mp3"}) {
		t.Error("Enqueue should return false when queue is full")
	}
	if s := wp.Stats(); s.Pending != 2 {
		t.Errorf("Pending = %d, want 2", s.Pending)
	}
}

func TestWorkerPool_EnqueueAfterStop(t *testing.T) {
	wp := newTestPool(t, 1, 10, nil)
	wp.Start()
	wp.Stop()

	if wp.Enqueue(Job{Path: "a.mp3"}) {
		t.Error("Enqueue should return false after Stop()")
	}
	if err := wp.Submit(context.Background(), Job{Path: "a.mp3"}); err != ErrPoolStopped {
		t.Errorf("Submit after Stop = %v, want ErrPoolStopped", err)
	}
	wp.Stop() // second Stop is a no-op
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	wp := newTestPool(t, 0, 1, nil)
	wp.Enqueue(Job{Path: "fill.mp3"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := wp.Submit(ctx, Job{Path: "b.mp3"}); err != context.DeadlineExceeded {
		t.Errorf("Submit = %v, want context.DeadlineExceeded", err)
	}
}

func TestWorkerPool_ProcessesAndSaves(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.mp3")
	if err := os.WriteFile(good, []byte("ID3audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &memSink{}
	var published []string
	var pubMu sync.Mutex
	wp := newTestPool(t, 2, 10, sink)
	wp.opts.Publish = func(r *ComparisonResult) {
		pubMu.Lock()
		published = append(published, r.AudioName)
		pubMu.Unlock()
	}
	wp.Start()

	if err := wp.Submit(context.Background(), Job{Path: good, Source: "test"}); err != nil {
		t.Fatal(err)
	}
	wp.Enqueue(Job{Path: filepath.Join(dir, "missing.mp3"), Source: "test"})
	wp.Stop()

	stats := wp.Stats()
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 completed / 1 failed", stats)
	}
	if len(sink.saved) != 1 || sink.saved[0].AudioName != "good.mp3" {
		t.Fatalf("saved = %v", sink.saved)
	}
	if got := sink.saved[0].Outcomes["a"]; !got.Succeeded || got.Transcript != "hi" {
		t.Errorf("outcome = %+v", got)
	}
	if len(published) != 1 {
		t.Errorf("published = %v, want one event", published)
	}
}

func TestWorkerPool_AbortDoesNotSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slow.wav")
	if err := os.WriteFile(path, []byte("RIFFaudio"), 0o644); err != nil {
		t.Fatal(err)
	}

	o, err := New([]transcribe.Provider{&stubProvider{id: "a", text: "late", delay: time.Minute}}, Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	sink := &memSink{}
	wp := NewWorkerPool(WorkerPoolOptions{Orchestrator: o, Sink: sink, Workers: 1, QueueSize: 1, Log: zerolog.Nop()})
	wp.Start()
	wp.Enqueue(Job{Path: path, Source: "test"})

	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		wp.Abort()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Abort did not interrupt the running comparison")
	}

	if len(sink.saved) != 0 {
		t.Errorf("aborted comparison was saved: %+v", sink.saved[0])
	}
	if wp.Failed() != 1 {
		t.Errorf("Failed = %d, want 1", wp.Failed())
	}
}

// ctxSink refuses saves on a done context, like a real store would.
type ctxSink struct{ memSink }

func (c *ctxSink) Save(ctx context.Context, r *ComparisonResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save on done context: %w", err)
	}
	return c.memSink.Save(ctx, r)
}

func TestWorkerPool_JobTimeoutSavesOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	if err := os.WriteFile(path, []byte("RIFFaudio"), 0o644); err != nil {
		t.Fatal(err)
	}

	o, err := New([]transcribe.Provider{
		&stubProvider{id: "fast", text: "done", conf: 0.9},
		&stubProvider{id: "slow", text: "late", delay: time.Minute},
	}, Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	sink := &ctxSink{}
	wp := NewWorkerPool(WorkerPoolOptions{
		Orchestrator: o,
		Sink:         sink,
		Workers:      1,
		QueueSize:    1,
		JobTimeout:   50 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	wp.Start()
	wp.Enqueue(Job{Path: path, Source: "test"})

	done := make(chan struct{})
	go func() {
		wp.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job timeout did not end the comparison")
	}

	if wp.Completed() != 1 || wp.Failed() != 0 {
		t.Fatalf("completed/failed = %d/%d, want 1/0", wp.Completed(), wp.Failed())
	}
	if len(sink.saved) != 1 {
		t.Fatalf("saved %d results, want 1", len(sink.saved))
	}
	r := sink.saved[0]
	if !r.Outcomes["fast"].Succeeded {
		t.Errorf("fast outcome = %+v", r.Outcomes["fast"])
	}
	if slow := r.Outcomes["slow"]; slow.Succeeded || slow.Error == "" {
		t.Errorf("slow outcome = %+v, want a recorded failure", slow)
	}
}
