package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/observability/metrics"
)

func TestReadiness(t *testing.T) {
	var r Readiness

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	r.SetReady(true)
	rec = httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ready" {
		t.Fatalf("expected 200 ready, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStreamServerInterceptor_RecordsStreams(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	icpt := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/conversation.v1.ConversationTranscription/Transcribe"}

	handlers := []grpc.StreamHandler{
		func(any, grpc.ServerStream) error { return nil },
		func(any, grpc.ServerStream) error { return status.Error(codes.Canceled, "client went away") },
		func(any, grpc.ServerStream) error { return status.Error(codes.InvalidArgument, "bad config") },
		func(any, grpc.ServerStream) error { return errors.New("boom") },
	}
	for _, h := range handlers {
		_ = icpt(nil, nil, info, h)
	}

	if got := testutil.ToFloat64(m.StreamsActive); got != 0 {
		t.Errorf("expected no active streams, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamsTotal); got != 4 {
		t.Errorf("expected 4 streams, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamsSuccess); got != 2 {
		t.Errorf("expected 2 successful streams, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamsFailed); got != 2 {
		t.Errorf("expected 2 failed streams, got %v", got)
	}
}

func TestUnaryServerInterceptor_PassesThrough(t *testing.T) {
	icpt := UnaryServerInterceptor()
	resp, err := icpt(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(_ context.Context, req any) (any, error) { return req.(string) + "!", nil })
	if err != nil || resp != "req!" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}
}
