// Package middleware wraps worker handlers with cross-cutting behavior.
//
// Every HandlerFunc returns a Response, never an error: a failure is an
// {"status":"error"} envelope, so a middleware can short-circuit a request
// (rate limit, timeout) and the worker still has something to reply with.
package middleware

import (
	"context"
	"mq-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件，第一个在最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
