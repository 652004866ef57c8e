// Package metrics defines the Prometheus instrumentation for the voice
// gateway. All Record helpers tolerate a nil receiver so components can be
// constructed without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice gateway.
type Metrics struct {
	// Session metrics
	ActiveSessions       prometheus.Gauge
	SessionsConnected    prometheus.Counter
	SessionsDisconnected prometheus.Counter
	SessionDuration      prometheus.Histogram

	// Capture metrics
	UtterancesFinalized prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	UtteranceChunks     prometheus.Histogram
	CaptureFailures     prometheus.Counter

	// Consent metrics
	ConsentUpdates prometheus.Counter
	ConsentDenials *prometheus.CounterVec

	// Dispatch metrics
	DispatchCompleted prometheus.Counter
	DispatchDropped   *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	CacheHits         *prometheus.CounterVec

	// Collaborator metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	AnalysisRequests      prometheus.Counter
	AnalysisFailures      prometheus.Counter
	AnalysisDuration      prometheus.Histogram

	// Delivery metrics
	Broadcasts      prometheus.Counter
	BroadcastPrunes prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Current number of connected sessions",
		}),
		SessionsConnected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_connected_total",
			Help: "Total number of sessions connected",
		}),
		SessionsDisconnected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_disconnected_total",
			Help: "Total number of sessions disconnected",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		UtterancesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_utterances_finalized_total",
			Help: "Total number of utterances finalized by silence segmentation",
		}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_utterance_duration_seconds",
			Help:    "Audio duration of finalized utterances",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		UtteranceChunks: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_utterance_chunks",
			Help:    "Number of chunks per finalized utterance",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CaptureFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_capture_failures_total",
			Help: "Total number of capture device failures",
		}),

		ConsentUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_consent_updates_total",
			Help: "Total number of consent record updates",
		}),
		ConsentDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_consent_denials_total",
			Help: "Total number of operations denied by consent checks",
		}, []string{"capability"}),

		DispatchCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_dispatch_completed_total",
			Help: "Total number of utterances fully processed and delivered",
		}),
		DispatchDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_dispatch_dropped_total",
			Help: "Total number of utterances dropped during processing",
		}, []string{"reason"}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_dispatch_duration_seconds",
			Help:    "End-to-end processing time per utterance",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_cache_hits_total",
			Help: "Total number of result cache hits",
		}, []string{"cache"}),

		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AnalysisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_analysis_requests_total",
			Help: "Total number of analysis requests sent",
		}),
		AnalysisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_analysis_failures_total",
			Help: "Total number of failed analysis requests",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_analysis_duration_seconds",
			Help:    "Duration of analysis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		Broadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_broadcasts_total",
			Help: "Total number of broadcast deliveries",
		}),
		BroadcastPrunes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_broadcast_prunes_total",
			Help: "Total number of sessions pruned after a failed write",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionConnected increments the session counters.
func (m *Metrics) RecordSessionConnected() {
	if m == nil {
		return
	}
	m.SessionsConnected.Inc()
}

// RecordSessionDisconnected records a closed session and its duration.
func (m *Metrics) RecordSessionDisconnected(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsDisconnected.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordUtteranceFinalized records a finalized utterance.
func (m *Metrics) RecordUtteranceFinalized(durationSeconds float64, chunks int) {
	if m == nil {
		return
	}
	m.UtterancesFinalized.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceChunks.Observe(float64(chunks))
}

// RecordCaptureFailure increments the capture failure counter.
func (m *Metrics) RecordCaptureFailure() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

// RecordConsentUpdate increments the consent update counter.
func (m *Metrics) RecordConsentUpdate() {
	if m == nil {
		return
	}
	m.ConsentUpdates.Inc()
}

// RecordConsentDenial records a denied privileged operation.
func (m *Metrics) RecordConsentDenial(capability string) {
	if m == nil {
		return
	}
	m.ConsentDenials.WithLabelValues(capability).Inc()
}

// RecordDispatchCompleted records a fully processed utterance.
func (m *Metrics) RecordDispatchCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.DispatchCompleted.Inc()
	m.DispatchDuration.Observe(durationSeconds)
}

// RecordDispatchDropped records an utterance dropped during processing.
func (m *Metrics) RecordDispatchDropped(reason string) {
	if m == nil {
		return
	}
	m.DispatchDropped.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a result cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordTranscription records one transcription request.
func (m *Metrics) RecordTranscription(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	if !success {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordAnalysis records one analysis request.
func (m *Metrics) RecordAnalysis(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AnalysisRequests.Inc()
	if !success {
		m.AnalysisFailures.Inc()
	}
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordBroadcast increments the broadcast counter.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

// RecordBroadcastPrune increments the prune counter.
func (m *Metrics) RecordBroadcastPrune() {
	if m == nil {
		return
	}
	m.BroadcastPrunes.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
