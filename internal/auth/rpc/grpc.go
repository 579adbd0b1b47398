package rpc

import (
	"log/slog"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/authapi"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Options configures the gRPC server.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Strict   ratelimit.Config
	Peer     ratelimit.Config
	Moderate ratelimit.Config

	// ServerOptions are appended after the interceptor chain.
	ServerOptions []grpc.ServerOption
}

// NewGRPCServer builds a grpc.Server serving srv and the standard health
// service. The health server starts SERVING; callers flip it to
// NOT_SERVING on shutdown.
func NewGRPCServer(srv authapi.AuthServiceServer, opts Options) (*grpc.Server, *health.Server) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			slogx.UnaryServerInterceptor(opts.Logger),
			RecoverInterceptor(),
			MetricsInterceptor(opts.Metrics),
			RateLimitInterceptor(ratelimit.New(opts.Strict), ratelimit.New(opts.Peer), ratelimit.New(opts.Moderate), opts.Metrics),
		),
	}, opts.ServerOptions...)

	s := grpc.NewServer(serverOpts...)
	authapi.RegisterAuthServiceServer(s, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(authapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s, hs
}
