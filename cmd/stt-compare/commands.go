package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/stt-compare/internal/analysis"
	"github.com/snarg/stt-compare/internal/api"
	"github.com/snarg/stt-compare/internal/audio"
	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/metrics"
	"github.com/snarg/stt-compare/internal/mqttclient"
	"github.com/snarg/stt-compare/internal/report"
	"github.com/snarg/stt-compare/internal/results"
	"github.com/snarg/stt-compare/internal/transcribe"
	"github.com/snarg/stt-compare/internal/watch"
)

type compareCmd struct {
	Files  []string `arg:"" type:"existingfile" help:"Audio files to compare."`
	NoSave bool     `name:"no-save" help:"Print results without storing them."`
	JSON   bool     `name:"json" help:"Print result documents as JSON instead of text."`
}

func (c *compareCmd) Run(ctx context.Context, a *app) error {
	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	var store results.Store
	if !c.NoSave {
		if store, err = a.openStore(ctx); err != nil {
			return err
		}
		defer store.Close()
	}

	failed := 0
	for _, path := range c.Files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in, err := audio.Open(path)
		if err != nil {
			a.log.Error().Err(err).Str("path", path).Msg("cannot compare file")
			failed++
			continue
		}

		r := orch.Compare(ctx, in)
		if store != nil {
			if err := store.Save(ctx, r); err != nil {
				a.log.Error().Err(err).Str("key", r.Key()).Msg("failed to save result")
				failed++
			}
		}

		if c.JSON {
			data, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			fmt.Println(report.RenderResult(r, orch.Providers()))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be compared or saved", failed, len(c.Files))
	}
	return nil
}

type batchCmd struct {
	Dir     string `name:"dir" help:"Directory to scan (defaults to AUDIO_DIR)." type:"path"`
	Workers int    `name:"workers" help:"Files compared at once (defaults to WORKERS)."`
}

func (c *batchCmd) Run(ctx context.Context, a *app) error {
	dir := c.Dir
	if dir == "" {
		dir = a.cfg.AudioDir
	}
	workers := c.Workers
	if workers <= 0 {
		workers = a.cfg.Workers
	}

	files, err := audio.Discover(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		a.log.Warn().Str("dir", dir).Msg("no audio files found")
		return nil
	}

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	mqtt := a.connectMQTT()
	if mqtt != nil {
		defer mqtt.Close()
	}

	pool := compare.NewWorkerPool(compare.WorkerPoolOptions{
		Orchestrator: orch,
		Sink:         store,
		Workers:      workers,
		QueueSize:    workers,
		JobTimeout:   a.cfg.JobTimeout,
		Publish:      a.publisher(mqtt),
		Log:          a.component("workers"),
	})
	pool.Start()

	a.log.Info().Str("dir", dir).Int("files", len(files)).Int("workers", workers).Msg("batch starting")
	start := time.Now()

	for _, f := range files {
		if err := pool.Submit(ctx, compare.Job{Path: f, Source: "cli"}); err != nil {
			break
		}
	}

	if ctx.Err() != nil {
		a.log.Info().Msg("batch interrupted, aborting in-flight comparisons")
		pool.Abort()
		return ctx.Err()
	}
	pool.Stop()

	stats := pool.Stats()
	a.log.Info().
		Int64("completed", stats.Completed).
		Int64("failed", stats.Failed).
		Dur("elapsed", time.Since(start)).
		Str("results", a.cfg.ResultsDir).
		Msg("batch complete")
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", stats.Failed, len(files))
	}
	return nil
}

type reportCmd struct {
	Out   string `name:"out" help:"Report file (defaults to RESULTS_DIR/comparison_report.txt)." type:"path"`
	Quiet bool   `name:"quiet" help:"Do not print the report."`
}

func (c *reportCmd) Run(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	all, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	if len(all) == 0 {
		a.log.Warn().Str("store", store.Type()).Msg("no results found")
	}

	m := analysis.Aggregate(all, transcribe.ParseProviderIDs(a.cfg.Providers))
	text := report.RenderMetrics(m, time.Now())

	out := c.Out
	if out == "" {
		out = filepath.Join(a.cfg.ResultsDir, report.FileName)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if !c.Quiet {
		fmt.Print(text)
	}
	a.log.Info().Str("path", out).Int("files", m.TotalFiles).Msg("report written")
	return nil
}

type serveCmd struct {
	Addr  string `name:"addr" help:"HTTP listen address (defaults to HTTP_ADDR)."`
	Watch bool   `name:"watch" help:"Also watch AUDIO_DIR for new files."`
}

func (c *serveCmd) Run(ctx context.Context, a *app) error {
	if c.Addr != "" {
		a.cfg.HTTPAddr = c.Addr
	}

	rt, err := a.startServices(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	registerCollector(rt.store, rt.pool)

	if c.Watch {
		if rt.watcher, err = a.startWatcher(ctx, rt, a.cfg.AudioDir, a.cfg.WatchBackfill); err != nil {
			rt.pool.Abort()
			return err
		}
	}

	srv := api.NewServer(api.ServerOptions{
		Config:       a.cfg,
		Orchestrator: rt.orch,
		Store:        rt.store,
		Pool:         rt.pool,
		MQTT:         rt.mqtt,
		Watcher:      rt.watcher,
		Publish:      rt.publish,
		Version:      version,
		StartTime:    a.startTime,
		Log:          a.component("http"),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http server shutdown error")
	}
	rt.stop()

	a.log.Info().Msg("stt-compare stopped")
	return serveErr
}

type watchCmd struct {
	Dir        string `name:"dir" help:"Directory to watch (defaults to AUDIO_DIR)." type:"path"`
	NoBackfill bool   `name:"no-backfill" help:"Skip files that already exist."`
}

func (c *watchCmd) Run(ctx context.Context, a *app) error {
	dir := c.Dir
	if dir == "" {
		dir = a.cfg.AudioDir
	}

	rt, err := a.startServices(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.watcher, err = a.startWatcher(ctx, rt, dir, a.cfg.WatchBackfill && !c.NoBackfill); err != nil {
		rt.pool.Abort()
		return err
	}

	<-ctx.Done()
	a.log.Info().Msg("shutdown signal received")
	rt.stop()
	a.log.Info().Msg("stt-compare stopped")
	return nil
}

// services is the long-running machinery shared by serve and watch.
type services struct {
	orch    *compare.Orchestrator
	store   results.Store
	mqtt    *mqttclient.Client
	pool    *compare.WorkerPool
	watcher *watch.Watcher
	publish compare.PublishFunc
}

func (a *app) startServices(ctx context.Context) (*services, error) {
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	rt := &services{orch: orch, store: store, mqtt: a.connectMQTT()}
	rt.publish = a.publisher(rt.mqtt)
	rt.pool = compare.NewWorkerPool(compare.WorkerPoolOptions{
		Orchestrator: orch,
		Sink:         store,
		Workers:      a.cfg.Workers,
		QueueSize:    a.cfg.QueueSize,
		JobTimeout:   a.cfg.JobTimeout,
		Publish:      rt.publish,
		Log:          a.component("workers"),
	})
	rt.pool.Start()

	if rt.mqtt != nil {
		a.acceptRequests(rt.mqtt, rt.pool)
	}
	return rt, nil
}

// stop shuts down the watcher, then aborts in-flight comparisons.
func (rt *services) stop() {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	rt.pool.Abort()
}

func (rt *services) close() {
	if rt.mqtt != nil {
		rt.mqtt.Close()
	}
	rt.store.Close()
}

func (a *app) startWatcher(ctx context.Context, rt *services, dir string, backfill bool) (*watch.Watcher, error) {
	w := watch.New(watch.Options{
		Dir:      dir,
		Queue:    rt.pool,
		Index:    rt.store,
		Backfill: backfill,
		Log:      a.log,
	})
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

// acceptRequests queues comparisons requested over MQTT.
func (a *app) acceptRequests(mqtt *mqttclient.Client, pool *compare.WorkerPool) {
	log := a.component("mqtt")
	mqtt.SetMessageHandler(func(topic string, payload []byte) {
		req, err := mqttclient.ParseRequest(payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("ignoring comparison request")
			return
		}
		path, err := audio.ResolveFile(a.cfg.AudioDir, req.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", req.Path).Msg("rejecting comparison request")
			return
		}
		if !audio.IsAudio(path) {
			log.Warn().Str("path", req.Path).Msg("requested file is not audio")
			return
		}
		if !pool.Enqueue(compare.Job{Path: path, Source: "mqtt"}) {
			log.Warn().Str("path", path).Msg("comparison queue full, request dropped")
			return
		}
		log.Info().Str("path", path).Msg("comparison requested")
	})
}

func registerCollector(store results.Store, pool *compare.WorkerPool) {
	var pg *pgxpool.Pool
	if ps, ok := results.Unwrap(store).(*results.PostgresStore); ok {
		pg = ps.Pool
	}
	if err := prometheus.Register(metrics.NewCollector(pg, pool)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}
