package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus registry of the node.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Command metrics
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Accounting metrics
	feesCollected *prometheus.CounterVec
	liquidations  prometheus.Counter
	openInterest  *prometheus.GaugeVec
	blockHeight   prometheus.Gauge

	eventsPublished prometheus.Counter

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates and registers the node metrics under namespace.
func New(namespace string) *Metrics {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed by name and result",
		}, []string{"command", "result"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency including commit",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"command"}),

		feesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_collected_total",
			Help:      "Fees collected in collateral units by kind",
		}, []string{"kind"}),

		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Trades closed by liquidation",
		}),

		openInterest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_interest",
			Help:      "Open interest in collateral units by pair and side",
		}, []string{"pair", "side"}),

		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Last committed height",
		}),

		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to publishers",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.feesCollected,
		m.liquidations,
		m.openInterest,
		m.blockHeight,
		m.eventsPublished,
		m.memoryUsage,
		m.goroutines,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommand records one command. result is "ok" or an error class.
func (m *Metrics) RecordCommand(command, result string, elapsed time.Duration) {
	m.commands.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordFee adds amount to the fees of kind.
func (m *Metrics) RecordFee(kind string, amount float64) {
	if amount > 0 {
		m.feesCollected.WithLabelValues(kind).Add(amount)
	}
}

// RecordLiquidation counts a liquidation.
func (m *Metrics) RecordLiquidation() {
	m.liquidations.Inc()
}

// SetOpenInterest updates the open interest of one side of a pair.
func (m *Metrics) SetOpenInterest(pair, side string, value float64) {
	m.openInterest.WithLabelValues(pair, side).Set(value)
}

// SetBlockHeight updates the committed height.
func (m *Metrics) SetBlockHeight(height uint64) {
	m.blockHeight.Set(float64(height))
}

// RecordEventsPublished counts published events.
func (m *Metrics) RecordEventsPublished(n int) {
	m.eventsPublished.Add(float64(n))
}

// CollectSystemMetrics samples runtime stats until ctx is done.
func (m *Metrics) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleRuntime()
		}
	}
}

func (m *Metrics) sampleRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryUsage.Set(float64(memStats.Alloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// LogMetrics logs a runtime snapshot.
func (m *Metrics) LogMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.logger.Info("metrics snapshot",
		"memory_mb", memStats.Alloc/1024/1024,
		"goroutines", runtime.NumGoroutine(),
	)
}
