// Package observability provides the metrics server and gRPC interceptors.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"call-monitoring-service/internal/observability/metrics"
)

// UnaryServerInterceptor records latency and status code of every unary call.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(ctx, m, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor does the same for streams, which in this service
// are only health watches.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(ss.Context(), m, info.FullMethod, err, time.Since(start))
		return err
	}
}

func observe(ctx context.Context, m *metrics.Metrics, method string, err error, elapsed time.Duration) {
	code := status.Code(err)
	m.RecordGRPC(method, code.String(), elapsed.Seconds())

	ev := log.Debug()
	if serverFault(code) {
		ev = log.Error().Err(err)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ev = ev.Str("peer", p.Addr.String())
	}
	ev.Str("method", method).
		Str("code", code.String()).
		Dur("duration", elapsed).
		Msg("gRPC call finished")
}

// serverFault reports codes that point at the service rather than the caller.
func serverFault(c codes.Code) bool {
	switch c {
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return true
	}
	return false
}
