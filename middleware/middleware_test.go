package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"mq-rpc/logger"
	"mq-rpc/message"
	"strings"
	"testing"
	"time"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.OK(json.RawMessage(`"ok"`))
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.OK(json.RawMessage(`"ok"`))
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Fail("file not found")
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("boom")
}

func healthReq() *message.Request {
	return &message.Request{Action: message.ActionHealth, CorrelationID: "c-1"}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(logger.NewWriter(&buf, "info"))(echoHandler)

	resp := handler(context.Background(), healthReq())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got '%s'", string(resp.Result))
	}
	if !strings.Contains(buf.String(), `"correlation_id":"c-1"`) {
		t.Fatalf("expect correlation id in log, got %s", buf.String())
	}
}

func TestLoggingFailure(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(logger.NewWriter(&buf, "info"))(failingHandler)

	resp := handler(context.Background(), healthReq())
	if resp.Error != "file not found" {
		t.Fatalf("expect handler error passed through, got '%s'", resp.Error)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expect warn level for failures, got %s", buf.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), healthReq())
	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), healthReq())
	if resp.Error != "request timed out" || resp.Status != message.StatusError {
		t.Fatalf("expect timeout error, got '%s'", resp.Error)
	}
}

func TestTimeoutWaitsForHandler(t *testing.T) {
	// handler 不理会 ctx：超时后也要等它真正返回
	var finished bool
	ignoring := func(ctx context.Context, req *message.Request) *message.Response {
		time.Sleep(100 * time.Millisecond)
		finished = true
		return message.OK(json.RawMessage(`"late"`))
	}
	handler := TimeOutMiddleware(10 * time.Millisecond)(ignoring)

	resp := handler(context.Background(), healthReq())
	if resp.Error != "request timed out" {
		t.Fatalf("expect timeout error, got %+v", resp)
	}
	if !finished {
		t.Fatal("middleware returned while the handler was still running")
	}
}

func TestTimeoutRecoversPanic(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(panicHandler)

	resp := handler(context.Background(), healthReq())
	if resp.Error != "handler panic: boom" {
		t.Fatalf("expect panic converted, got '%s'", resp.Error)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	// 前 2 个应该通过（burst=2）
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), healthReq())
		if resp.Error != "" {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	// 第 3 个应该被限流
	resp := handler(context.Background(), healthReq())
	if resp.Error != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Error)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware()(panicHandler)

	resp := handler(context.Background(), healthReq())
	if resp.Status != message.StatusError || resp.Error != "handler panic: boom" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Recover + Logging + Timeout，验证请求能正常穿过
	chained := Chain(RecoverMiddleware(), LoggingMiddleware(logger.Nop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), healthReq())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(echoHandler)(context.Background(), healthReq())
	if strings.Join(order, ",") != "a,b,c" {
		t.Fatalf("expect a,b,c, got %v", order)
	}
}
