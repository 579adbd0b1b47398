package rpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps engine errors to gRPC statuses. The message is the reason
// code only; causes stay in the logs.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrMalformed),
		errors.Is(err, service.ErrSignature),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrRevoked):
		code = codes.Unauthenticated
	case errors.Is(err, service.ErrDependencyUnavailable):
		code = codes.Unavailable
	case errors.Is(err, service.ErrPrincipalExists):
		code = codes.AlreadyExists
	case errors.Is(err, service.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, service.ErrTOTPAlreadyEnrolled):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline_exceeded")
	}

	if code == codes.Internal || code == codes.Unavailable {
		slogx.FromContext(ctx).Error("request failed", slog.Any("error", err))
	}
	return status.Error(code, service.Reason(err))
}
