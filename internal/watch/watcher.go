package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/audio"
	"github.com/snarg/stt-compare/internal/compare"
)

const defaultDebounce = 500 * time.Millisecond

// Queue accepts comparison jobs. *compare.WorkerPool satisfies it.
type Queue interface {
	Submit(ctx context.Context, j compare.Job) error
}

// Index reports whether a result already exists for a key.
type Index interface {
	Exists(ctx context.Context, key string) bool
}

type Options struct {
	Dir      string
	Queue    Queue
	Index    Index // optional; backfill queues everything when nil
	Backfill bool
	Debounce time.Duration
	Log      zerolog.Logger
}

// Status is reported on the health endpoint.
type Status struct {
	Status       string `json:"status"`
	WatchDir     string `json:"watch_dir"`
	FilesQueued  int64  `json:"files_queued"`
	FilesSkipped int64  `json:"files_skipped"`
}

// Watcher monitors an audio directory tree and queues a comparison for every
// audio file that appears in it.
type Watcher struct {
	opts Options
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesQueued  atomic.Int64
	filesSkipped atomic.Int64
	status       atomic.Value // "starting", "backfilling", "watching", "stopped"
}

func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start adds every directory under Dir to the watch set and begins watching.
// With Backfill set, existing files without a stored result are queued in
// the background.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)

	dirCount := 0
	err = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			if path == w.opts.Dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		w.cancel()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.opts.Dir).
		Msg("file watcher initialized")

	w.wg.Add(1)
	go w.watchLoop()

	if w.opts.Backfill {
		w.wg.Add(1)
		go w.backfill()
	} else {
		w.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher and waits for the event loop to exit.
// Pending debounced files are dropped.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
	w.wg.Wait()

	w.log.Info().
		Int64("files_queued", w.filesQueued.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("file watcher stopped")
}

func (w *Watcher) Status() *Status {
	s, _ := w.status.Load().(string)
	return &Status{
		Status:       s,
		WatchDir:     w.opts.Dir,
		FilesQueued:  w.filesQueued.Load(),
		FilesSkipped: w.filesSkipped.Load(),
	}
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					w.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !audio.IsAudio(event.Name) {
				continue
			}
			w.scheduleQueue(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleQueue waits until a file has been quiet for the debounce period so
// that a file still being copied in is not picked up half-written.
func (w *Watcher) scheduleQueue(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.queue(path, "watch")
	})
}

func (w *Watcher) queue(path, source string) bool {
	if err := w.opts.Queue.Submit(w.ctx, compare.Job{Path: path, Source: source}); err != nil {
		w.filesSkipped.Add(1)
		w.log.Warn().Err(err).Str("path", path).Msg("failed to queue file")
		return false
	}
	w.filesQueued.Add(1)
	w.log.Debug().Str("path", path).Str("source", source).Msg("file queued")
	return true
}

// backfill queues existing audio files that have no stored result, oldest
// first.
func (w *Watcher) backfill() {
	defer w.wg.Done()
	w.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	skipped := 0

	_ = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !audio.IsAudio(path) {
			return nil
		}
		if w.opts.Index != nil && w.opts.Index.Exists(w.ctx, compare.Stem(filepath.Base(path))) {
			skipped++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	w.log.Info().
		Int("files", len(files)).
		Int("already_compared", skipped).
		Msg("backfill starting")

	queued := 0
	for _, f := range files {
		if w.ctx.Err() != nil {
			w.log.Info().Int("queued", queued).Msg("backfill interrupted by shutdown")
			return
		}
		if w.queue(f.path, "backfill") {
			queued++
		}
	}

	w.status.CompareAndSwap("backfilling", "watching")
	w.log.Info().
		Int("queued", queued).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}
