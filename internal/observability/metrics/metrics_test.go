package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	// None of these should panic.
	m.RecordStreamStart()
	m.RecordStreamEnd(true, 1)
	m.RecordSessionStart()
	m.RecordSessionStopped(1)
	m.RecordSessionCanceled("Error", "ServiceError", true, 1)
	m.RecordEvent("Transcribed")
	m.RecordUtteranceCompleted()
	m.RecordUtteranceDropped("error")
	m.RecordAudioReceived(10)
	m.RecordOverflow()
	m.RecordParticipantChange("add")
	m.RecordAttribution("signature")
	m.RecordKafkaPublish("t", "final", nil, 0.1)
	m.RecordSTTError("mock", "unknown")
	m.RecordEnrollment(nil, 0.1)
}

func TestSessionLifecycleGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Fatalf("expected 2 active sessions, got %v", got)
	}

	m.RecordSessionStopped(1.5)
	m.RecordSessionCanceled("UserRequested", "NoError", true, 0.5)
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCanceled.WithLabelValues("UserRequested", "NoError")); got != 1 {
		t.Errorf("expected 1 canceled session, got %v", got)
	}

	// Canceled before it ever started does not touch the gauge.
	m.RecordSessionCanceled("UserRequested", "NoError", false, 0)
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("expected gauge unchanged, got %v", got)
	}
}

func TestRecordKafkaPublish_CountsErrors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("conversation.transcript.final", "final", nil, 0.01)
	m.RecordKafkaPublish("conversation.transcript.final", "final", errors.New("boom"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("conversation.transcript.final", "final")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("conversation.transcript.final", "final")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestRecordEnrollment_Outcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEnrollment(nil, 0.2)
	m.RecordEnrollment(errors.New("503"), 0.2)

	if got := testutil.ToFloat64(m.EnrollmentRequests.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.EnrollmentRequests.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}
