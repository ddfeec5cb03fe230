// Package metrics provides instrumentation backends for the reactive
// engine: a Prometheus-backed reagent.Hooks implementation and an
// OpenTelemetry tracing layer around flush cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// Config configures the Prometheus hooks.
type Config struct {
	// Namespace is the metrics namespace (default: "reagent").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for flush duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the Prometheus hooks.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the flush-duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "reagent",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Hooks is a Prometheus-backed implementation of reagent.Hooks.
//
// Metrics collected:
//   - reagent_cells_total: Counter of cells created
//   - reagent_notifications_total: Counter of deliveries by mode
//   - reagent_subscriptions_active: Gauge of live subscriptions
//   - reagent_jobs_queued_total: Counter of enqueues by lane
//   - reagent_queue_depth: Gauge of pending jobs by lane
//   - reagent_jobs_executed_total: Counter of executed jobs by lane
//   - reagent_job_errors_total: Counter of recovered job panics by lane
//   - reagent_flushes_total: Counter of completed flush cycles
//   - reagent_flush_duration_seconds: Histogram of flush duration
//   - reagent_flush_jobs: Histogram of jobs executed per flush
type Hooks struct {
	cells         prometheus.Counter
	notifications *prometheus.CounterVec
	subscriptions prometheus.Gauge
	jobsQueued    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	jobsExecuted  *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	flushes       prometheus.Counter
	flushDuration prometheus.Histogram
	flushJobs     prometheus.Histogram
}

var _ reagent.Hooks = (*Hooks)(nil)

// New creates Prometheus hooks, registering all metrics with the
// configured registry. Pass the result to reagent.WithHooks.
//
// Example:
//
//	engine := reagent.New(
//	    reagent.WithHooks(metrics.New(
//	        metrics.WithNamespace("myapp"),
//	    )),
//	)
//	http.Handle("/metrics", promhttp.Handler())
func New(opts ...Option) *Hooks {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Hooks{
		cells: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_total",
			Help:        "Total number of trackable cells created",
			ConstLabels: config.ConstLabels,
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total subscription deliveries by mode",
			ConstLabels: config.ConstLabels,
		}, []string{"mode"}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriptions_active",
			Help:        "Number of live subscriptions",
			ConstLabels: config.ConstLabels,
		}),
		jobsQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "jobs_queued_total",
			Help:        "Total jobs enqueued by lane",
			ConstLabels: config.ConstLabels,
		}, []string{"lane"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_depth",
			Help:        "Pending jobs by lane at last enqueue",
			ConstLabels: config.ConstLabels,
		}, []string{"lane"}),
		jobsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "jobs_executed_total",
			Help:        "Total jobs executed by lane",
			ConstLabels: config.ConstLabels,
		}, []string{"lane"}),
		jobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "job_errors_total",
			Help:        "Total recovered job panics by lane",
			ConstLabels: config.ConstLabels,
		}, []string{"lane"}),
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flushes_total",
			Help:        "Total completed flush cycles",
			ConstLabels: config.ConstLabels,
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flush_duration_seconds",
			Help:        "Flush cycle duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
		flushJobs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flush_jobs",
			Help:        "Jobs executed per flush cycle",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// CellWrapped implements reagent.Hooks.
func (h *Hooks) CellWrapped() { h.cells.Inc() }

// NotifyDelivered implements reagent.Hooks.
func (h *Hooks) NotifyDelivered(sync bool) {
	mode := "batched"
	if sync {
		mode = "sync"
	}
	h.notifications.WithLabelValues(mode).Inc()
}

// SubscriptionOpened implements reagent.Hooks.
func (h *Hooks) SubscriptionOpened() { h.subscriptions.Inc() }

// SubscriptionClosed implements reagent.Hooks.
func (h *Hooks) SubscriptionClosed() { h.subscriptions.Dec() }

// JobQueued implements reagent.Hooks.
func (h *Hooks) JobQueued(lane reagent.Lane, pending int) {
	h.jobsQueued.WithLabelValues(lane.String()).Inc()
	h.queueDepth.WithLabelValues(lane.String()).Set(float64(pending))
}

// JobExecuted implements reagent.Hooks.
func (h *Hooks) JobExecuted(lane reagent.Lane) {
	h.jobsExecuted.WithLabelValues(lane.String()).Inc()
}

// JobFailed implements reagent.Hooks.
func (h *Hooks) JobFailed(lane reagent.Lane) {
	h.jobErrors.WithLabelValues(lane.String()).Inc()
}

// FlushStarted implements reagent.Hooks.
func (h *Hooks) FlushStarted() {}

// FlushFinished implements reagent.Hooks.
func (h *Hooks) FlushFinished(d time.Duration, executed int) {
	h.flushes.Inc()
	h.flushDuration.Observe(d.Seconds())
	h.flushJobs.Observe(float64(executed))
	for _, lane := range []reagent.Lane{reagent.LanePre, reagent.LaneMain, reagent.LanePost} {
		h.queueDepth.WithLabelValues(lane.String()).Set(0)
	}
}

// Combine fans hook calls out to several backends, e.g. Prometheus
// metrics plus OpenTelemetry tracing.
func Combine(hooks ...reagent.Hooks) reagent.Hooks {
	return multiHooks(hooks)
}

type multiHooks []reagent.Hooks

func (m multiHooks) CellWrapped() {
	for _, h := range m {
		h.CellWrapped()
	}
}

func (m multiHooks) NotifyDelivered(sync bool) {
	for _, h := range m {
		h.NotifyDelivered(sync)
	}
}

func (m multiHooks) SubscriptionOpened() {
	for _, h := range m {
		h.SubscriptionOpened()
	}
}

func (m multiHooks) SubscriptionClosed() {
	for _, h := range m {
		h.SubscriptionClosed()
	}
}

func (m multiHooks) JobQueued(lane reagent.Lane, pending int) {
	for _, h := range m {
		h.JobQueued(lane, pending)
	}
}

func (m multiHooks) JobExecuted(lane reagent.Lane) {
	for _, h := range m {
		h.JobExecuted(lane)
	}
}

func (m multiHooks) JobFailed(lane reagent.Lane) {
	for _, h := range m {
		h.JobFailed(lane)
	}
}

func (m multiHooks) FlushStarted() {
	for _, h := range m {
		h.FlushStarted()
	}
}

func (m multiHooks) FlushFinished(d time.Duration, executed int) {
	for _, h := range m {
		h.FlushFinished(d, executed)
	}
}
