package middleware

import (
	"log/slog"
	"time"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/server"
)

// LoggingInterceptor logs each API call with its route, duration and, for
// failures, the error code. Client errors log at warn, everything else that
// fails at error.
func LoggingInterceptor(logger *slog.Logger) server.UnaryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx *server.Context, req any, next server.HandlerFunc) (any, error) {
		start := time.Now()
		logger.DebugContext(ctx, "request started", slog.String("endpoint", ctx.EndpointID()))

		res, err := next(ctx, req)
		attrs := []any{
			slog.String("endpoint", ctx.EndpointID()),
			slog.Duration("duration", time.Since(start)),
		}
		if err == nil {
			logger.InfoContext(ctx, "request completed", attrs...)
			return res, nil
		}

		apiErr := taskdeck.AsError(err)
		attrs = append(attrs, slog.String("code", string(apiErr.Code)), slog.Any("error", err))
		if status := apiErr.Code.HTTPStatus(); status >= 400 && status < 500 {
			logger.WarnContext(ctx, "request rejected", attrs...)
		} else {
			logger.ErrorContext(ctx, "request failed", attrs...)
		}
		return res, err
	}
}
