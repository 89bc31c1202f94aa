package middleware

import (
	"context"
	"fmt"
	"mq-rpc/message"
)

// RecoverMiddleware turns a handler panic into an error response.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					resp = message.Fail(fmt.Sprintf("handler panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
