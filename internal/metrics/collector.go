package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to worker pool state.
type QueueStats interface {
	Pending() int
	Completed() int64
	Failed() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats

	queuePending    *prometheus.Desc
	jobsCompleted   *prometheus.Desc
	jobsFailed      *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil when results are not stored in Postgres. queue may be nil
// if no worker pool is running.
func NewCollector(pool *pgxpool.Pool, queue QueueStats) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "pending"),
			"Comparison jobs waiting in the queue.",
			nil, nil,
		),
		jobsCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "completed_total"),
			"Comparison jobs finished and persisted.",
			nil, nil,
		),
		jobsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "failed_total"),
			"Comparison jobs that could not be run or persisted.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.jobsCompleted
	ch <- c.jobsFailed
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, completed, failed float64
	if c.queue != nil {
		pending = float64(c.queue.Pending())
		completed = float64(c.queue.Completed())
		failed = float64(c.queue.Failed())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.jobsCompleted, prometheus.CounterValue, completed)
	ch <- prometheus.MustNewConstMetric(c.jobsFailed, prometheus.CounterValue, failed)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
