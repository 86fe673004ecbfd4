package server

import (
	"context"
	"errors"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/observability"
	"LendingPool/internal/query"
	"LendingPool/internal/state"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusFromError maps domain errors to gRPC codes:
//
//	stale price         -> Unavailable (retry after the oracle refreshes)
//	invalid input       -> InvalidArgument
//	sequence / rejected -> FailedPrecondition
//	overflow / other    -> Internal
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if s := status.FromContextError(err); s.Code() != codes.Unknown {
		return s.Err()
	}

	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrSequence):
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	switch state.Classify(err) {
	case state.KindRetryable:
		return status.Error(codes.Unavailable, err.Error())
	case state.KindRejected:
		if errors.Is(err, state.ErrInvalidInput) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// errorInterceptor converts handler errors to gRPC statuses.
func errorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	return resp, statusFromError(err)
}

// rateLimitInterceptor throttles mutating methods. A nil limiter disables it.
func rateLimitInterceptor(limiter *rate.Limiter, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limiter != nil && mutatingMethods[info.FullMethod] && !limiter.Allow() {
			if metrics != nil {
				metrics.IngestRateLimited.WithLabelValues(info.FullMethod).Inc()
			}
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// loggingInterceptor logs every call at debug and server faults at error.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		evt := logger.Debug()
		if code == codes.Internal || code == codes.Unknown {
			evt = logger.Error().Err(err)
		}
		evt.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}

// NewLimiter returns a limiter of perSecond with a burst of twice that, or
// nil when perSecond is 0.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(2 * perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
