package telemetry

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServerInterceptor logs finished calls on the default logger. Health checks are polled often and are
// not logged.
func GRPCServerInterceptor() grpc.ServerOption {
	return GRPCServerInterceptorWithLogger(slog.Default())
}

func GRPCServerInterceptorWithLogger(l *slog.Logger) grpc.ServerOption {
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}

	return grpc.ChainUnaryInterceptor(
		selector.UnaryServerInterceptor(
			logging.UnaryServerInterceptor(grpcServerLogger(l), opts...),
			selector.MatchFunc(notHealthCheck),
		),
	)
}

func notHealthCheck(_ context.Context, c interceptors.CallMeta) bool {
	return c.Service != healthpb.Health_ServiceDesc.ServiceName
}

func grpcServerLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
