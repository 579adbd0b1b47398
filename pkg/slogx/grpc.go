package slogx

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/idx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RequestIDMetadataKey carries a caller-supplied request id. Values that are
// not ULIDs are replaced so log lines stay sortable.
const RequestIDMetadataKey = "x-request-id"

// UnaryServerInterceptor is the gRPC counterpart of HTTPMiddleware: it puts
// a request-scoped logger into the context and logs one line per call.
func UnaryServerInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		reqID := idx.Zero
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(RequestIDMetadataKey); len(v) > 0 {
				reqID, _ = idx.Parse(v[0])
			}
		}
		if reqID.IsZero() {
			reqID = idx.New()
		}

		remote := ""
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		logger := base.With(
			"req_id", reqID.String(),
			"method", info.FullMethod,
			"peer", remote,
		)
		ctx = WithContext(ctx, logger)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc_request",
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
