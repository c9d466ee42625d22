package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/mqttclient"
	"github.com/snarg/stt-compare/internal/results"
	"github.com/snarg/stt-compare/internal/transcribe"
	"github.com/snarg/stt-compare/internal/watch"
)

type HealthResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Checks        map[string]string       `json:"checks"`
	Providers     []transcribe.ProviderID `json:"providers"`
	Queue         *compare.QueueStats     `json:"queue,omitempty"`
	Watcher       *watch.Status           `json:"watcher,omitempty"`
}

// healthChecker is implemented by stores that can check their backend.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	store     results.Store
	mqtt      *mqttclient.Client
	pool      *compare.WorkerPool
	watcher   *watch.Watcher
	providers []transcribe.ProviderID
	version   string
	startTime time.Time
}

func NewHealthHandler(store results.Store, mqtt *mqttclient.Client, pool *compare.WorkerPool, watcher *watch.Watcher, providers []transcribe.ProviderID, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     store,
		mqtt:      mqtt,
		pool:      pool,
		watcher:   watcher,
		providers: providers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Result store check
	checks["store"] = h.store.Type()
	if hc, ok := results.Unwrap(h.store).(healthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["store"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Providers:     h.providers,
	}

	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Queue = &stats
		checks["workers"] = "ok"
	} else {
		checks["workers"] = "not_configured"
	}

	// File watcher check
	if h.watcher != nil {
		resp.Watcher = h.watcher.Status()
		checks["file_watcher"] = resp.Watcher.Status
	}

	WriteJSON(w, httpStatus, resp)
}
