package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mq-rpc/errors"
	"mq-rpc/handler/handlertest"
	"mq-rpc/message"
	"mq-rpc/server"
	"testing"
)

func call(t *testing.T, h server.Handler, action message.Action, payload any) *message.Response {
	t.Helper()
	req, err := message.NewRequest(action, payload)
	if err != nil {
		t.Fatal(err)
	}
	return server.Invoke(context.Background(), h, req)
}

func TestTranscribeFile(t *testing.T) {
	h := ASR(&handlertest.Transcriber{}, ASROptions{})

	resp := call(t, h, message.ActionTranscribeFile, message.TranscribeFilePayload{
		AudioPath: "/tmp/a.wav",
		Options:   message.TranscriptionOptions{Language: "de"},
	})
	if resp.Status != message.StatusOK {
		t.Fatalf("unexpected response %+v", resp)
	}
	var tr message.Transcription
	json.Unmarshal(resp.Result, &tr)
	if tr.Text != "transcript of /tmp/a.wav" || tr.Language != "de" {
		t.Fatalf("unexpected transcription %+v", tr)
	}
}

func TestTranscribeFileMissingPath(t *testing.T) {
	h := ASR(&handlertest.Transcriber{}, ASROptions{})

	resp := call(t, h, message.ActionTranscribeFile, map[string]any{"request": map[string]any{}})
	if resp.Status != message.StatusError || resp.Error != "audio_path: failed 'required'" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTranscribeBatchPartialFailure(t *testing.T) {
	tr := &handlertest.Transcriber{Fail: map[string]error{"/b.wav": fmt.Errorf("file not found")}}
	h := ASR(tr, ASROptions{BatchConcurrency: 3})

	resp := call(t, h, message.ActionTranscribeBatch, message.TranscribeBatchPayload{
		AudioPaths: []string{"/a.wav", "/b.wav", "/c.wav"},
	})
	if resp.Status != message.StatusOK {
		t.Fatalf("partial failure must not fail the batch: %+v", resp)
	}

	var batch message.BatchTranscription
	json.Unmarshal(resp.Result, &batch)
	if batch.TotalFiles != 3 || batch.SuccessfulFiles != 2 || batch.FailedFiles != 1 {
		t.Fatalf("unexpected counts %+v", batch)
	}
	if batch.Results[0].Text != "transcript of /a.wav" || batch.Results[1].Text != "transcript of /c.wav" {
		t.Fatalf("expect input order kept, got %+v", batch.Results)
	}
	if batch.Errors[0].File != "/b.wav" || batch.Errors[0].Error != "file not found" {
		t.Fatalf("unexpected errors %+v", batch.Errors)
	}
	if tr.Calls() != 3 {
		t.Fatalf("expect 3 transcriptions, got %d", tr.Calls())
	}
}

func TestTranscribeBatchTooLarge(t *testing.T) {
	h := ASR(&handlertest.Transcriber{}, ASROptions{MaxBatchFiles: 2})

	resp := call(t, h, message.ActionTranscribeBatch, message.TranscribeBatchPayload{
		AudioPaths: []string{"/a.wav", "/b.wav", "/c.wav"},
	})
	if resp.Error != "batch size 3 exceeds maximum allowed size 2" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTranscribeBatchEmpty(t *testing.T) {
	h := ASR(&handlertest.Transcriber{}, ASROptions{})

	req, _ := message.NewRequest(message.ActionTranscribeBatch, message.TranscribeBatchPayload{AudioPaths: []string{}})
	_, err := h(context.Background(), req)
	if !errors.IsInvalidInput(err) {
		t.Fatalf("expect invalid input, got %v", err)
	}
}

func TestASRUnknownAction(t *testing.T) {
	h := ASR(&handlertest.Transcriber{}, ASROptions{})

	resp := call(t, h, message.Action("translate"), nil)
	if resp.Error != "unknown ASR action 'translate'" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSummarize(t *testing.T) {
	h := LLM(&handlertest.Summarizer{})

	resp := call(t, h, message.ActionSummarize, message.SummarizePayload{
		Request: message.SummarizeRequest{Text: "the customer asked about a refund for order 42"},
	})
	var s message.Summary
	json.Unmarshal(resp.Result, &s)
	if s.Summary != "the customer asked about a" || s.Model != "test-model" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestSummarizeBackendError(t *testing.T) {
	h := LLM(&handlertest.Summarizer{Err: fmt.Errorf("model unavailable")})

	resp := call(t, h, message.ActionSummarize, message.SummarizePayload{
		Request: message.SummarizeRequest{Text: "hello"},
	})
	if resp.Status != message.StatusError || resp.Error != "model unavailable" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSummarizeCall(t *testing.T) {
	h := LLM(&handlertest.Summarizer{})

	resp := call(t, h, message.ActionSummarizeCall, message.SummarizeCallPayload{
		Request: message.CallSummaryRequest{TranscriptText: "hi", ClientName: "Acme"},
	})
	var cs message.CallSummary
	json.Unmarshal(resp.Result, &cs)
	if cs.CallSummary.Purpose != "call with Acme" || len(cs.Scorecards) != 1 {
		t.Fatalf("unexpected call summary %+v", cs)
	}
}

func TestScoreChecklist(t *testing.T) {
	h := LLM(&handlertest.Summarizer{})

	resp := call(t, h, message.ActionScoreChecklist, message.ScoreChecklistPayload{
		Request: message.ChecklistRequest{
			TranscriptText: "Agent gave a greeting and then a refund",
			Checklist: []message.ChecklistItem{
				{ID: "1", Title: "Greeting"},
				{ID: "2", Title: "Upsell"},
			},
		},
	})
	var verdicts []message.ChecklistVerdict
	if err := json.Unmarshal(resp.Result, &verdicts); err != nil {
		t.Fatal(err)
	}
	if len(verdicts) != 2 || !verdicts[0].Passed || verdicts[1].Passed {
		t.Fatalf("unexpected verdicts %+v", verdicts)
	}
}

func TestScoreChecklistRequiresItems(t *testing.T) {
	h := LLM(&handlertest.Summarizer{})

	resp := call(t, h, message.ActionScoreChecklist, message.ScoreChecklistPayload{
		Request: message.ChecklistRequest{TranscriptText: "x"},
	})
	if resp.Status != message.StatusError {
		t.Fatalf("expect validation error, got %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	h := LLM(&handlertest.Summarizer{Model: "gpt-4o-mini"})

	resp := call(t, h, message.ActionHealth, nil)
	var health message.BackendHealth
	json.Unmarshal(resp.Result, &health)
	if health.Status != "ready" || health.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestLLMUnknownAction(t *testing.T) {
	h := LLM(&handlertest.Summarizer{})

	resp := call(t, h, message.ActionTranscribeFile, message.TranscribeFilePayload{AudioPath: "/a.wav"})
	if resp.Error != "unknown LLM action 'transcribe_file'" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
