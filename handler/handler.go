// Package handler binds the ASR and LLM actions to their backends.
//
// The backends are collaborators behind small interfaces: Transcriber for
// speech-to-text and Summarizer for the language model. The handlers only
// decode and validate payloads, call the backend and shape the result; the
// same handler serves the broker worker and the in-process fallback.
package handler

import (
	"context"
	"fmt"

	"mq-rpc/errors"
	"mq-rpc/logger"
	"mq-rpc/message"
	"mq-rpc/server"

	"golang.org/x/sync/errgroup"
)

// Transcriber turns one audio file into text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, audioPath string, opts message.TranscriptionOptions) (*message.Transcription, error)
}

// Summarizer runs the language-model operations.
type Summarizer interface {
	Summarize(ctx context.Context, req message.SummarizeRequest) (*message.Summary, error)
	SummarizeCall(ctx context.Context, req message.CallSummaryRequest) (*message.CallSummary, error)
	ScoreChecklist(ctx context.Context, req message.ChecklistRequest) ([]message.ChecklistVerdict, error)
	Health(ctx context.Context) (*message.BackendHealth, error)
}

// Defaults for ASROptions.
const (
	DefaultBatchConcurrency = 2
	DefaultMaxBatchFiles    = 10
)

// ASROptions tunes batch transcription.
type ASROptions struct {
	// BatchConcurrency bounds files transcribed at once within one batch.
	BatchConcurrency int
	// MaxBatchFiles rejects larger batches. Zero means DefaultMaxBatchFiles.
	MaxBatchFiles int
	Logger        *logger.Logger
}

func (o *ASROptions) applyDefaults() {
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = DefaultBatchConcurrency
	}
	if o.MaxBatchFiles <= 0 {
		o.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

// ASR returns the handler for the ASR queue.
func ASR(t Transcriber, opts ASROptions) server.Handler {
	opts.applyDefaults()
	log := opts.Logger.WithComponent("handler.asr")

	svc := server.NewService(message.CapabilityASR)
	server.Handle(svc, message.ActionTranscribeFile, func(ctx context.Context, p *message.TranscribeFilePayload) (any, error) {
		return t.TranscribeFile(ctx, p.AudioPath, p.Options)
	})
	server.Handle(svc, message.ActionTranscribeBatch, func(ctx context.Context, p *message.TranscribeBatchPayload) (any, error) {
		if n := len(p.AudioPaths); n > opts.MaxBatchFiles {
			return nil, errors.InvalidInput(fmt.Sprintf("batch size %d exceeds maximum allowed size %d", n, opts.MaxBatchFiles)).
				WithDetail("batch_size", n).WithDetail("max_batch_size", opts.MaxBatchFiles)
		}
		return transcribeBatch(ctx, t, p, opts.BatchConcurrency, log), nil
	})
	return svc.Handler()
}

// transcribeBatch transcribes every file; a failed file is recorded, never fatal.
// Results keep the input order of the files that succeeded.
func transcribeBatch(ctx context.Context, t Transcriber, p *message.TranscribeBatchPayload, limit int, log *logger.Logger) *message.BatchTranscription {
	total := len(p.AudioPaths)
	results := make([]*message.Transcription, total)
	failures := make([]error, total)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, path := range p.AudioPaths {
		g.Go(func() error {
			log.Info("transcribing batch file", map[string]interface{}{"file": path, "index": i + 1, "total": total})
			// Each goroutine owns slot i.
			results[i], failures[i] = t.TranscribeFile(ctx, path, p.Options)
			return nil
		})
	}
	g.Wait()

	batch := &message.BatchTranscription{
		Results:    make([]message.Transcription, 0, total),
		TotalFiles: total,
		Errors:     make([]message.FileError, 0),
	}
	for i, path := range p.AudioPaths {
		if err := failures[i]; err != nil {
			log.Error("batch file failed", map[string]interface{}{"file": path, logger.FieldError: err.Error()})
			batch.Errors = append(batch.Errors, message.FileError{File: path, Error: err.Error()})
			continue
		}
		if results[i] != nil {
			batch.Results = append(batch.Results, *results[i])
		}
	}
	batch.SuccessfulFiles = len(batch.Results)
	batch.FailedFiles = len(batch.Errors)
	return batch
}

// LLM returns the handler for the LLM queue.
func LLM(s Summarizer) server.Handler {
	svc := server.NewService(message.CapabilityLLM)
	server.Handle(svc, message.ActionSummarize, func(ctx context.Context, p *message.SummarizePayload) (any, error) {
		return s.Summarize(ctx, p.Request)
	})
	server.Handle(svc, message.ActionSummarizeCall, func(ctx context.Context, p *message.SummarizeCallPayload) (any, error) {
		return s.SummarizeCall(ctx, p.Request)
	})
	server.Handle(svc, message.ActionScoreChecklist, func(ctx context.Context, p *message.ScoreChecklistPayload) (any, error) {
		verdicts, err := s.ScoreChecklist(ctx, p.Request)
		if err != nil {
			return nil, err
		}
		if verdicts == nil {
			verdicts = []message.ChecklistVerdict{}
		}
		return verdicts, nil
	})
	server.Handle(svc, message.ActionHealth, func(ctx context.Context, _ *struct{}) (any, error) {
		return s.Health(ctx)
	})
	return svc.Handler()
}
