// Package openai implements the LLM operations on any OpenAI-compatible chat
// completions endpoint (OpenAI, Ollama's /v1, vLLM).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"mq-rpc/message"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 512

	summarySystemPrompt = "You are an assistant that writes concise, factual summaries of customer calls. " +
		"Never invent facts that are not in the text."
	callSystemPrompt = "You analyse customer call transcripts. Answer with a single JSON object with the keys " +
		`"callSummary" {category, purpose, discussionPoints[], actionItems[], decisionMade, managerRecommendations[]}, ` +
		`"sentiment" {overall, tone[], drivers[], recommendations[], managerRecommendations[]} and ` +
		`"scorecards" [{title, score, target, description}]. Scores range from 0 to 10.`
	checklistSystemPrompt = "You grade a call transcript against a checklist. Answer with a single JSON object " +
		`{"results": [{"id", "title", "passed", "score", "evidence"}]} containing one entry per checklist item, ` +
		"score between 0 and 1, evidence quoted from the transcript."
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// MaxRetries is passed to the SDK. Zero disables retries.
	MaxRetries int
}

// Client implements handler.Summarizer.
type Client struct {
	client  oai.Client
	model   string
	baseURL string
}

// New constructs a client for cfg.Model.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	reqOpts = append(reqOpts, option.WithMaxRetries(cfg.MaxRetries))
	return &Client{client: oai.NewClient(reqOpts...), model: cfg.Model, baseURL: cfg.BaseURL}, nil
}

// Summarize produces a free-text summary.
func (c *Client) Summarize(ctx context.Context, req message.SummarizeRequest) (*message.Summary, error) {
	params := c.params(summarySystemPrompt, summarizePrompt(req))
	params.Temperature = param.NewOpt(defaultTemperature)
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	params.MaxCompletionTokens = param.NewOpt(int64(defaultMaxTokens))
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}
	text := firstContent(resp)
	if text == "" {
		return nil, fmt.Errorf("received empty summary from model %s", c.model)
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	prompt, completion := int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	return &message.Summary{
		Summary:          text,
		Model:            model,
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
		DurationMs:       &elapsed,
	}, nil
}

func summarizePrompt(req message.SummarizeRequest) string {
	var details []string
	if s := strings.TrimSpace(req.Instructions); s != "" {
		details = append(details, "Custom instructions: "+s)
	}
	if s := strings.TrimSpace(req.Focus); s != "" {
		details = append(details, "Focus areas: "+s)
	}
	if req.Format == message.SummaryBullet {
		details = append(details, "Format the response as bullet points starting with '-'.")
	}
	sections := []string{}
	if len(details) > 0 {
		sections = append(sections, strings.Join(details, "\n"))
	}
	sections = append(sections, "Content to summarize:\n"+strings.TrimSpace(req.Text))
	return strings.Join(sections, "\n\n")
}

// SummarizeCall produces the structured call summary.
func (c *Client) SummarizeCall(ctx context.Context, req message.CallSummaryRequest) (*message.CallSummary, error) {
	var b strings.Builder
	if req.ClientName != "" {
		fmt.Fprintf(&b, "Client: %s\n", req.ClientName)
	}
	if req.Status != "" {
		fmt.Fprintf(&b, "Call status: %s\n", req.Status)
	}
	if req.Decision != "" {
		fmt.Fprintf(&b, "Decision: %s\n", req.Decision)
	}
	if len(req.ActionItems) > 0 {
		fmt.Fprintf(&b, "Known action items:\n- %s\n", strings.Join(req.ActionItems, "\n- "))
	}
	b.WriteString("\nTranscript:\n")
	if len(req.Segments) > 0 {
		for _, s := range req.Segments {
			fmt.Fprintf(&b, "%s: %s\n", s.Speaker, s.Text)
		}
	} else {
		b.WriteString(req.TranscriptText)
	}

	var out message.CallSummary
	if err := c.completeJSON(ctx, callSystemPrompt, b.String(), &out); err != nil {
		return nil, fmt.Errorf("call summary: %w", err)
	}
	if len(out.CallSummary.ActionItems) == 0 {
		out.CallSummary.ActionItems = req.ActionItems
	}
	if out.CallSummary.DecisionMade == "" {
		out.CallSummary.DecisionMade = req.Decision
	}
	if out.CallSummary.CreatedAt == "" {
		out.CallSummary.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return &out, nil
}

// ScoreChecklist grades the transcript. The result has exactly one verdict
// per checklist item, in checklist order.
func (c *Client) ScoreChecklist(ctx context.Context, req message.ChecklistRequest) ([]message.ChecklistVerdict, error) {
	var b strings.Builder
	b.WriteString("Checklist:\n")
	for _, item := range req.Checklist {
		fmt.Fprintf(&b, "- id=%s title=%q", item.ID, item.Title)
		if item.Description != "" {
			fmt.Fprintf(&b, " description=%q", item.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(req.TranscriptText)

	var out struct {
		Results []message.ChecklistVerdict `json:"results"`
	}
	if err := c.completeJSON(ctx, checklistSystemPrompt, b.String(), &out); err != nil {
		return nil, fmt.Errorf("checklist scoring: %w", err)
	}

	byID := make(map[string]message.ChecklistVerdict, len(out.Results))
	for _, v := range out.Results {
		byID[v.ID] = v
	}
	verdicts := make([]message.ChecklistVerdict, 0, len(req.Checklist))
	for _, item := range req.Checklist {
		v, ok := byID[item.ID]
		if !ok {
			v = message.ChecklistVerdict{ID: item.ID, Evidence: "not assessed by model"}
		}
		v.Title = item.Title
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// Health checks that the endpoint answers and serves the configured model.
// Failures are reported in the result.
func (c *Client) Health(ctx context.Context) (*message.BackendHealth, error) {
	h := &message.BackendHealth{Status: "ready", Model: c.model, Endpoint: c.baseURL}
	page, err := c.client.Models.List(ctx)
	if err != nil {
		h.Status = "error"
		h.Error = fmt.Sprintf("unable to reach %s: %v", c.baseURL, err)
		return h, nil
	}
	for _, m := range page.Data {
		if m.ID == c.model || strings.TrimSuffix(m.ID, ":latest") == c.model {
			return h, nil
		}
	}
	h.Status = "error"
	h.Error = fmt.Sprintf("model '%s' not found at %s", c.model, c.baseURL)
	return h, nil
}

func (c *Client) params(system, user string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
	}
}

// completeJSON asks for a JSON object and decodes it into v.
func (c *Client) completeJSON(ctx context.Context, system, user string, v any) error {
	params := c.params(system, user)
	params.Temperature = param.NewOpt(0.0)
	params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return err
	}
	content := stripFence(firstContent(resp))
	if content == "" {
		return fmt.Errorf("model returned no content")
	}
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return nil
}

func firstContent(resp *oai.ChatCompletion) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// stripFence removes a ```json fence some models wrap around JSON output.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
