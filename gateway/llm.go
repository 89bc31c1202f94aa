package gateway

import (
	"context"

	"mq-rpc/message"
	"mq-rpc/server"
)

// LLM is the typed client of the language-model pool.
type LLM struct {
	core *core
}

// NewLLM routes calls to queue through caller. local, if non-nil, is the
// in-process fallback handler.
func NewLLM(caller Caller, queue string, local server.Handler, opts ...Option) *LLM {
	return &LLM{core: newCore(caller, queue, message.CapabilityLLM, local, opts)}
}

func (g *LLM) Summarize(ctx context.Context, req message.SummarizeRequest, callOpts ...CallOption) (*message.Summary, error) {
	return call[*message.Summary](ctx, g.core, message.ActionSummarize, message.SummarizePayload{Request: req}, callOpts)
}

func (g *LLM) SummarizeCall(ctx context.Context, req message.CallSummaryRequest, callOpts ...CallOption) (*message.CallSummary, error) {
	return call[*message.CallSummary](ctx, g.core, message.ActionSummarizeCall, message.SummarizeCallPayload{Request: req}, callOpts)
}

// ScoreChecklist returns one verdict per checklist item.
func (g *LLM) ScoreChecklist(ctx context.Context, req message.ChecklistRequest, callOpts ...CallOption) ([]message.ChecklistVerdict, error) {
	return call[[]message.ChecklistVerdict](ctx, g.core, message.ActionScoreChecklist, message.ScoreChecklistPayload{Request: req}, callOpts)
}

// Health reports the backend status. An unreachable backend is reported in
// the result with status "error", not as an error.
func (g *LLM) Health(ctx context.Context, callOpts ...CallOption) (*message.BackendHealth, error) {
	return call[*message.BackendHealth](ctx, g.core, message.ActionHealth, nil, callOpts)
}
