// Package observability provides Prometheus metrics for the screening bot.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Screening metrics
	CandidatesScreened prometheus.Counter
	Rejections         *prometheus.CounterVec
	Events             *prometheus.CounterVec
	TokensBanned       prometheus.Counter

	// Trading metrics
	Trades        *prometheus.CounterVec
	OpenPositions prometheus.Gauge

	// Blacklist size
	BlacklistSize *prometheus.GaugeVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dexscreener"
	}

	return &Metrics{
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Total number of screening cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Screening cycle duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		CandidatesScreened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "candidates_screened_total",
			Help:      "Total number of candidates run through the filter chain",
		}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "rejections_total",
			Help:      "Total number of rejected candidates by failing step",
		}, []string{"step"}),
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "events_total",
			Help:      "Total number of classified events by tag",
		}, []string{"tag"}),
		TokensBanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "tokens_banned_total",
			Help:      "Total number of tokens blacklisted by the concentration step",
		}),

		Trades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "trades_total",
			Help:      "Total number of trade intents by side and status",
		}, []string{"side", "status"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Number of currently held positions",
		}),

		BlacklistSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "entries",
			Help:      "Number of blacklist entries by namespace",
		}, []string{"kind"}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCycle records a finished cycle.
func RecordCycle(status string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordScreened records one screening outcome. failedStep is empty for accepted candidates.
func RecordScreened(failedStep string, banned bool) {
	DefaultMetrics.CandidatesScreened.Inc()
	if failedStep != "" {
		DefaultMetrics.Rejections.WithLabelValues(failedStep).Inc()
	}
	if banned {
		DefaultMetrics.TokensBanned.Inc()
	}
}

// RecordEvent increments the classified event counter.
func RecordEvent(tag string) {
	DefaultMetrics.Events.WithLabelValues(tag).Inc()
}

// RecordTrade records a trade intent outcome.
func RecordTrade(side, status string) {
	DefaultMetrics.Trades.WithLabelValues(side, status).Inc()
}

// UpdateOpenPositions sets the held position gauge.
func UpdateOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// UpdateBlacklistSize sets the blacklist gauges.
func UpdateBlacklistSize(tokens, issuers int) {
	DefaultMetrics.BlacklistSize.WithLabelValues("token").Set(float64(tokens))
	DefaultMetrics.BlacklistSize.WithLabelValues("issuer").Set(float64(issuers))
}
