// Package handlertest provides canned backends for tests.
package handlertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mq-rpc/message"
)

// Transcriber returns "transcript of <path>" for every file. Paths listed in
// Fail return an error; Delay slows every call down.
type Transcriber struct {
	Fail  map[string]error
	Delay time.Duration

	calls atomic.Int64
}

func (t *Transcriber) TranscribeFile(ctx context.Context, audioPath string, opts message.TranscriptionOptions) (*message.Transcription, error) {
	t.calls.Add(1)
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := t.Fail[audioPath]; ok {
		return nil, err
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	return &message.Transcription{
		Text:     "transcript of " + audioPath,
		Language: lang,
		Duration: 1.5,
		Segments: []message.Segment{{ID: 0, Start: 0, End: 1.5, Text: "transcript of " + audioPath}},
	}, nil
}

// Calls returns how many files were transcribed.
func (t *Transcriber) Calls() int { return int(t.calls.Load()) }

// Summarizer answers every LLM action with fixed content. Err fails every
// call; Empty makes Summarize succeed with nothing.
type Summarizer struct {
	Model string
	Err   error
	Empty bool

	mu    sync.Mutex
	calls []string
}

func (s *Summarizer) record(op string) {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	s.mu.Unlock()
}

// Calls lists the invoked operations in order.
func (s *Summarizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Summarizer) model() string {
	if s.Model == "" {
		return "test-model"
	}
	return s.Model
}

func (s *Summarizer) Summarize(ctx context.Context, req message.SummarizeRequest) (*message.Summary, error) {
	s.record("summarize")
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Empty {
		return nil, nil
	}
	words := strings.Fields(req.Text)
	if len(words) > 5 {
		words = words[:5]
	}
	return &message.Summary{Summary: strings.Join(words, " "), Model: s.model()}, nil
}

func (s *Summarizer) SummarizeCall(ctx context.Context, req message.CallSummaryRequest) (*message.CallSummary, error) {
	s.record("summarize_call")
	if s.Err != nil {
		return nil, s.Err
	}
	return &message.CallSummary{
		CallSummary: message.CallSummaryDetails{
			Category:     "support",
			Purpose:      fmt.Sprintf("call with %s", req.ClientName),
			ActionItems:  req.ActionItems,
			DecisionMade: req.Decision,
		},
		Sentiment:  message.Sentiment{Overall: "neutral"},
		Scorecards: []message.Scorecard{{Title: "Empathy", Score: 8, Target: 10}},
	}, nil
}

func (s *Summarizer) ScoreChecklist(ctx context.Context, req message.ChecklistRequest) ([]message.ChecklistVerdict, error) {
	s.record("score_checklist")
	if s.Err != nil {
		return nil, s.Err
	}
	verdicts := make([]message.ChecklistVerdict, 0, len(req.Checklist))
	for _, item := range req.Checklist {
		passed := strings.Contains(strings.ToLower(req.TranscriptText), strings.ToLower(item.Title))
		score := 0.0
		if passed {
			score = 1
		}
		verdicts = append(verdicts, message.ChecklistVerdict{ID: item.ID, Title: item.Title, Passed: passed, Score: score})
	}
	return verdicts, nil
}

func (s *Summarizer) Health(ctx context.Context) (*message.BackendHealth, error) {
	s.record("health")
	if s.Err != nil {
		return &message.BackendHealth{Status: "error", Model: s.model(), Endpoint: "test://", Error: s.Err.Error()}, nil
	}
	return &message.BackendHealth{Status: "ready", Model: s.model(), Endpoint: "test://"}, nil
}
