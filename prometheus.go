package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every exported gauge/counter, grouped by component,
// following the teacher's promauto.NewXxxVec(GaugeOpts{Name,Help}, labels)
// construction pattern.
type Metrics struct {
	controllerState  *prometheus.GaugeVec
	currentFrequency prometheus.Gauge
	healthScore      prometheus.Gauge
	breakerState     *prometheus.GaugeVec

	framesParsed    prometheus.Counter
	invalidLines    prometheus.Counter
	bufferOverflows prometheus.Counter

	peaksDetected      prometheus.Counter
	detectionsTotal    prometheus.Counter
	signalDatabaseSize prometheus.Gauge

	activeSignals  prometheus.Gauge
	fadingSignals  prometheus.Gauge
	signalTurnover prometheus.Gauge

	subscriberCount      prometheus.Gauge
	subscriberQueueDepth *prometheus.GaugeVec
	laggedEvents         prometheus.Counter

	recoveryAttempts    *prometheus.CounterVec
	externalTrackedMACs prometheus.Gauge
}

// NewMetrics registers every gauge/counter against the default registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		controllerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hackrf_controller_state",
			Help: "Current sweep controller state (one-hot per state label)",
		}, []string{"state"}),
		currentFrequency: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_current_frequency_hz",
			Help: "Current sweep target frequency in Hz",
		}),
		healthScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_health_score",
			Help: "Composite device health score, 0-100",
		}),
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hackrf_circuit_breaker_state",
			Help: "Circuit breaker state per service (0=closed,1=half_open,2=open)",
		}, []string{"service"}),

		framesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_frames_parsed_total",
			Help: "Total valid spectrum frames parsed",
		}),
		invalidLines: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_invalid_lines_total",
			Help: "Total lines rejected by the stream parser",
		}),
		bufferOverflows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_buffer_overflows_total",
			Help: "Total stream parser buffer overflow trims",
		}),

		peaksDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_peaks_detected_total",
			Help: "Total peaks detected by the sweep analyzer",
		}),
		detectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_detections_total",
			Help: "Total signal detections promoted by the signal processor",
		}),
		signalDatabaseSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_signal_database_size",
			Help: "Current per-frequency signal database size",
		}),

		activeSignals: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_active_signals",
			Help: "Current count of active (non-fading) signals",
		}),
		fadingSignals: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_fading_signals",
			Help: "Current count of fading signals",
		}),
		signalTurnover: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_signal_turnover_per_sec",
			Help: "Rolling 10s signal removal rate",
		}),

		subscriberCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_subscribers",
			Help: "Current number of push subscribers",
		}),
		subscriberQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hackrf_subscriber_queue_depth",
			Help: "Per-subscriber outbound queue depth",
		}, []string{"subscriber_id"}),
		laggedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hackrf_lagged_events_total",
			Help: "Total lagged markers sent due to queue overflow",
		}),

		recoveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hackrf_recovery_attempts_total",
			Help: "Total recovery strategy attempts, by strategy and service",
		}, []string{"strategy", "service"}),
		externalTrackedMACs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hackrf_external_tracked_macs",
			Help: "Number of MACs currently tracked by the external signal bridge rate limiter",
		}),
	}
}

// Handler returns the standard promhttp handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStatus updates the controller/health/breaker gauges from a status
// snapshot and breaker map.
func (m *Metrics) ObserveStatus(status HackRFStatus, breakers map[string]BreakerState) {
	for _, s := range []ControllerState{StateIdle, StateStarting, StateRunning, StateSwitching, StateStopping, StateRecovering, StateFailed} {
		val := 0.0
		if s == status.ControllerState {
			val = 1.0
		}
		m.controllerState.WithLabelValues(s.String()).Set(val)
	}
	if status.HasCurrentFreq {
		m.currentFrequency.Set(float64(status.CurrentFreq))
	}
	m.healthScore.Set(status.HealthScore)

	for service, state := range breakers {
		m.breakerState.WithLabelValues(service).Set(float64(state))
	}
}

// ObserveWindow updates the signal-store gauges from a window snapshot.
func (m *Metrics) ObserveWindow(snap WindowSnapshot, dbSize int) {
	m.activeSignals.Set(float64(len(snap.Active)))
	m.fadingSignals.Set(float64(len(snap.Fading)))
	m.signalTurnover.Set(snap.SignalTurnover)
	m.signalDatabaseSize.Set(float64(dbSize))
}

// ObservePush updates the push-layer gauges.
func (m *Metrics) ObservePush(subscriberCount int) {
	m.subscriberCount.Set(float64(subscriberCount))
}

// ObserveExternal updates the external-bridge gauges.
func (m *Metrics) ObserveExternal(trackedMACs int) {
	m.externalTrackedMACs.Set(float64(trackedMACs))
}

// RecordRecoveryAttempt increments the per-strategy/service attempt counter.
func (m *Metrics) RecordRecoveryAttempt(strategy, service string) {
	m.recoveryAttempts.WithLabelValues(strategy, service).Inc()
}
