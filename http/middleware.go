package http

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Middleware func(next Handler) Handler

// Recover turns a handler panic into a plain 500. The head has not been
// written yet at handler time, so a full replacement response is still
// possible here.
func Recover(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						"panic", r,
						"path", ctx.Request.Path,
						"request_id", ctx.RequestID,
					)
					ctx.Response.Reset()
					ctx.Response.WithStatus(StatusInternalServerError).WithText("Internal server error")
				}
			}()

			next(ctx)
		}
	}
}

// RequestID tags every exchange with a fresh id, echoed in the response.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			ctx.RequestID = uuid.NewString()
			ctx.Response.SetHeader("x-request-id", ctx.RequestID)

			next(ctx)
		}
	}
}

// AccessLog logs one line per exchange. The duration covers head
// resolution, not body streaming, which may still be in flight.
func AccessLog(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			start := time.Now()

			next(ctx)

			logger.Info("request",
				"method", ctx.Request.Method,
				"path", ctx.Request.Path,
				"status", ctx.Response.Status,
				"duration", time.Since(start),
				"request_id", ctx.RequestID,
			)
		}
	}
}
