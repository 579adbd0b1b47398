package rpc

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/authapi"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RecoverInterceptor turns a handler panic into codes.Internal.
func RecoverInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				slogx.FromContext(ctx).Error("panic in handler",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return handler(ctx, req)
	}
}

// MetricsInterceptor counts calls and their latency by method and code.
func MetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.ObserveRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// requestPrincipal is the principal being authenticated or created.
func requestPrincipal(req any) string {
	switch r := req.(type) {
	case *authapi.AuthenticateRequest:
		return r.Principal
	case *authapi.RegisterRequest:
		return r.Principal
	}
	return ""
}

// strictMethods are the credential checks that get the strict profile.
var strictMethods = map[string]bool{
	authapi.AuthenticateMethod: true,
	authapi.RegisterMethod:     true,
}

// RateLimitInterceptor applies strict to credential checks, keyed by peer
// and principal, and moderate to everything else, keyed by peer. Credential
// checks also draw from the peer's bucket in perPeer, so cycling principals
// from one peer does not escape the limit.
func RateLimitInterceptor(strict, perPeer, moderate *ratelimit.Limiter, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		host := peerHost(ctx)

		var (
			key        string
			ok         bool
			retryAfter time.Duration
		)
		if strictMethods[info.FullMethod] {
			key = host
			if p := requestPrincipal(req); p != "" {
				key += "|" + p
			}
			ok, retryAfter = strict.Allow(key)
			if ok {
				key = host
				ok, retryAfter = perPeer.Allow(key)
			}
		} else {
			key = host
			ok, retryAfter = moderate.Allow(key)
		}
		if ok {
			return handler(ctx, req)
		}

		m.RateLimited.WithLabelValues(info.FullMethod).Inc()
		seconds := int(retryAfter.Seconds())
		_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", strconv.Itoa(seconds)))
		slogx.FromContext(ctx).Warn("rate limit exceeded",
			slog.String("key", key),
			slog.Int("retry_after", seconds),
		)
		return nil, status.Error(codes.ResourceExhausted, "rate_limit_exceeded")
	}
}
