// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conversation_transcriber"

// Metrics holds all Prometheus metrics for the service.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Stream metrics (gRPC)
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsStopped  prometheus.Counter
	SessionsCanceled *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Event metrics
	EventsEmitted *prometheus.CounterVec

	// Utterance metrics
	UtterancesCompleted prometheus.Counter
	UtterancesDropped   *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived    prometheus.Counter
	AudioSegmentsReceived prometheus.Counter
	QueueOverflows        prometheus.Counter

	// Participant and attribution metrics
	ParticipantChanges *prometheus.CounterVec
	Attributions       *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Enrollment metrics
	EnrollmentRequests *prometheus.CounterVec
	EnrollmentLatency  prometheus.Histogram
}

// DefaultMetrics is the metrics instance registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of transcription sessions not yet terminated",
		}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Total number of sessions that stopped normally",
		}),
		SessionsCanceled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_canceled_total",
			Help:      "Total number of canceled sessions",
		}, []string{"reason", "code"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of transcription events emitted",
		}, []string{"kind"}),

		UtterancesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_completed_total",
			Help:      "Total number of utterances completed with a final result",
		}),
		UtterancesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of utterances dropped without a final result",
		}, []string{"reason"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes accepted",
		}),
		AudioSegmentsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_segments_received_total",
			Help:      "Total audio segments accepted",
		}),
		QueueOverflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Total number of segments rejected because the session queue was full",
		}),

		ParticipantChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_changes_total",
			Help:      "Total number of participant additions and removals",
		}, []string{"op"}),
		Attributions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_total",
			Help:      "Total number of speaker attribution decisions",
		}, []string{"method"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of recognizer errors",
		}, []string{"provider", "error_type"}),

		EnrollmentRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_requests_total",
			Help:      "Total number of voice signature enrollment requests",
		}, []string{"outcome"}),
		EnrollmentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrollment_latency_seconds",
			Help:      "Voice signature enrollment latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	if m == nil {
		return
	}
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordSessionStart records a session leaving IDLE.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStopped records a session reaching STOPPED.
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionCanceled records a session reaching CANCELED.
// started reports whether the session had been counted as active.
func (m *Metrics) RecordSessionCanceled(reason, code string, started bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if started {
		m.SessionsActive.Dec()
		m.SessionDuration.Observe(durationSeconds)
	}
	m.SessionsCanceled.WithLabelValues(reason, code).Inc()
}

// RecordEvent records an emitted transcription event.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

// RecordUtteranceCompleted records an utterance finished with a final result.
func (m *Metrics) RecordUtteranceCompleted() {
	if m == nil {
		return
	}
	m.UtterancesCompleted.Inc()
}

// RecordUtteranceDropped records an utterance abandoned without a final.
func (m *Metrics) RecordUtteranceDropped(reason string) {
	if m == nil {
		return
	}
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records an accepted audio segment.
func (m *Metrics) RecordAudioReceived(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioSegmentsReceived.Inc()
}

// RecordOverflow records a segment rejected by backpressure.
func (m *Metrics) RecordOverflow() {
	if m == nil {
		return
	}
	m.QueueOverflows.Inc()
}

// RecordParticipantChange records a participant add or remove.
func (m *Metrics) RecordParticipantChange(op string) {
	if m == nil {
		return
	}
	m.ParticipantChanges.WithLabelValues(op).Inc()
}

// RecordAttribution records how a segment was attributed.
func (m *Metrics) RecordAttribution(method string) {
	if m == nil {
		return
	}
	m.Attributions.WithLabelValues(method).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records a recognizer error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	if m == nil {
		return
	}
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordEnrollment records an enrollment call.
func (m *Metrics) RecordEnrollment(err error, latencySeconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EnrollmentRequests.WithLabelValues(outcome).Inc()
	m.EnrollmentLatency.Observe(latencySeconds)
}
