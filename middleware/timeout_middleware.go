package middleware

import (
	"context"
	"fmt"
	"mq-rpc/message"
	"time"
)

// TimeOutMiddleware bounds handler execution. When the deadline passes the
// handler's ctx is canceled and the reply is "request timed out", but the
// middleware only returns once the handler has returned, so a worker never
// starts its next job while the previous one is still running.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				// A panic here would escape any outer recover.
				defer func() {
					if r := recover(); r != nil {
						done <- message.Fail(fmt.Sprintf("handler panic: %v", r))
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				<-done
				return message.Fail("request timed out")
			}
		}
	}
}
