package middleware

import (
	"context"
	"mq-rpc/logger"
	"mq-rpc/message"
	"time"
)

// LoggingMiddleware logs every handled request with its duration and outcome.
func LoggingMiddleware(log *logger.Logger) Middleware {
	log = log.WithComponent("worker")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			fields := map[string]interface{}{
				logger.FieldAction:        string(req.Action),
				logger.FieldCorrelationID: req.CorrelationID,
				logger.FieldDuration:      time.Since(start).Milliseconds(),
			}
			if resp.Status == message.StatusError {
				fields[logger.FieldError] = resp.Error
				log.Warn("request failed", fields)
				return resp
			}
			log.Info("request handled", fields)
			return resp
		}
	}
}
