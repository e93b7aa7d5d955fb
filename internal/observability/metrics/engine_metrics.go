// Package metrics exposes prometheus instruments for the loyalty engine.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config identifies the service on every metric.
type Config struct {
	ServiceName string
	Environment string
}

// EngineMetrics covers cashback processing, tier transitions, and external sync.
type EngineMetrics struct {
	cashbackProcessed *prometheus.CounterVec
	tierTransitions   *prometheus.CounterVec
	externalSync      *prometheus.CounterVec
	syncDelta         prometheus.Histogram
	syncBacklog       prometheus.Gauge
	webhookDuration   prometheus.Histogram
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the process-wide engine metrics.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig initializes the engine metrics with service labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest clears the singleton between test runs.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "rewardspro"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	cashbackProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "rewardspro_cashback_processed_total",
			Help:        "Order-paid events processed by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // credited | duplicate | ineligible | failed
	)

	tierTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "rewardspro_tier_transitions_total",
			Help:        "Membership transitions by change type.",
			ConstLabels: constLabels,
		},
		[]string{"change_type"},
	)

	externalSync := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "rewardspro_external_sync_total",
			Help:        "External store-credit mutations and reconciliations by result.",
			ConstLabels: constLabels,
		},
		[]string{"operation", "result"}, // credit|debit|reconcile x success|rejected|error
	)

	syncDelta := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "rewardspro_sync_delta_cents",
			Help:        "Absolute balance delta discovered during reconciliation.",
			Buckets:     []float64{1, 10, 100, 1000, 10000, 100000},
			ConstLabels: constLabels,
		},
	)

	syncBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "rewardspro_sync_backlog_total",
			Help:        "Customers whose balance is stale beyond the freshness threshold.",
			ConstLabels: constLabels,
		},
	)

	webhookDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "rewardspro_webhook_duration_seconds",
			Help:        "End-to-end order webhook processing time.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		cashbackProcessed,
		tierTransitions,
		externalSync,
		syncDelta,
		syncBacklog,
		webhookDuration,
	)

	return &EngineMetrics{
		cashbackProcessed: cashbackProcessed,
		tierTransitions:   tierTransitions,
		externalSync:      externalSync,
		syncDelta:         syncDelta,
		syncBacklog:       syncBacklog,
		webhookDuration:   webhookDuration,
	}
}

func (m *EngineMetrics) IncCashbackProcessed(result string) {
	if m == nil {
		return
	}
	m.cashbackProcessed.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) IncTierTransition(changeType string) {
	if m == nil {
		return
	}
	m.tierTransitions.WithLabelValues(changeType).Inc()
}

func (m *EngineMetrics) IncExternalSync(operation, result string) {
	if m == nil {
		return
	}
	m.externalSync.WithLabelValues(operation, result).Inc()
}

func (m *EngineMetrics) ObserveSyncDelta(cents int64) {
	if m == nil {
		return
	}
	if cents < 0 {
		cents = -cents
	}
	m.syncDelta.Observe(float64(cents))
}

func (m *EngineMetrics) SetSyncBacklog(value int) {
	if m == nil {
		return
	}
	m.syncBacklog.Set(float64(value))
}

func (m *EngineMetrics) ObserveWebhookDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.webhookDuration.Observe(d.Seconds())
}
