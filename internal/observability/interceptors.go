// Package observability provides the gRPC interceptors and the HTTP server
// used for metrics and health checks.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs unary calls (health checks, reflection).
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		logCall(st.Code()).
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor records the number and duration of transcription
// streams. A stream ended by the client (Canceled) counts as successful.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		duration := time.Since(start)
		st, _ := status.FromError(err)
		success := st.Code() == codes.OK || st.Code() == codes.Canceled
		m.RecordStreamEnd(success, duration.Seconds())

		logCall(st.Code()).
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Bool("success", success).
			Msg("gRPC stream completed")

		return err
	}
}

func logCall(code codes.Code) *zerolog.Event {
	log := logging.WithComponent("grpc")
	switch code {
	case codes.OK, codes.Canceled:
		return log.Info()
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return log.Error()
	default:
		return log.Warn()
	}
}
