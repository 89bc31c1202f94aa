package message

// ---- ASR ----

// TranscriptionOptions tunes one transcription.
type TranscriptionOptions struct {
	Language       string `json:"language,omitempty"`
	Task           string `json:"task,omitempty" validate:"omitempty,oneof=transcribe translate"`
	WordTimestamps bool   `json:"word_timestamps"`
	InitialPrompt  string `json:"initial_prompt,omitempty"`
}

// TranscribeFilePayload is the body of transcribe_file.
type TranscribeFilePayload struct {
	AudioPath string               `json:"audio_path" validate:"required"`
	Options   TranscriptionOptions `json:"request"`
}

// TranscribeBatchPayload is the body of transcribe_batch.
type TranscribeBatchPayload struct {
	AudioPaths []string             `json:"audio_paths" validate:"required,min=1,dive,required"`
	Options    TranscriptionOptions `json:"request"`
}

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Transcription is the result of transcribe_file.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments,omitempty"`
	Words    []Word    `json:"words,omitempty"`
}

// FileError records one failed file of a batch.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// BatchTranscription is the result of transcribe_batch.
type BatchTranscription struct {
	Results         []Transcription `json:"results"`
	TotalFiles      int             `json:"total_files"`
	SuccessfulFiles int             `json:"successful_files"`
	FailedFiles     int             `json:"failed_files"`
	Errors          []FileError     `json:"errors"`
}

// ---- LLM ----

// SummaryFormat selects the shape of a free-text summary.
type SummaryFormat string

const (
	SummaryParagraph SummaryFormat = "paragraph"
	SummaryBullet    SummaryFormat = "bullet"
)

type SummarizeRequest struct {
	Text         string        `json:"text" validate:"required"`
	Format       SummaryFormat `json:"format,omitempty" validate:"omitempty,oneof=paragraph bullet"`
	Focus        string        `json:"focus,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
}

// SummarizePayload is the body of summarize.
type SummarizePayload struct {
	Request SummarizeRequest `json:"request"`
}

// Summary is the result of summarize.
type Summary struct {
	Summary          string   `json:"summary"`
	Model            string   `json:"model"`
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	DurationMs       *float64 `json:"duration_ms,omitempty"`
}

type CallSegment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type CallSummaryRequest struct {
	TranscriptText string        `json:"transcript_text" validate:"required"`
	ClientName     string        `json:"client_name,omitempty"`
	Status         string        `json:"status,omitempty"`
	ActionItems    []string      `json:"action_items,omitempty"`
	Decision       string        `json:"decision,omitempty"`
	Segments       []CallSegment `json:"segments,omitempty"`
}

// SummarizeCallPayload is the body of summarize_call.
type SummarizeCallPayload struct {
	Request CallSummaryRequest `json:"request"`
}

type CallSummaryDetails struct {
	Category               string   `json:"category"`
	Purpose                string   `json:"purpose"`
	DiscussionPoints       []string `json:"discussionPoints"`
	ActionItems            []string `json:"actionItems"`
	DecisionMade           string   `json:"decisionMade"`
	CreatedAt              string   `json:"createdAt,omitempty"`
	ManagerRecommendations []string `json:"managerRecommendations"`
}

type Sentiment struct {
	Overall                string   `json:"overall"`
	Tone                   []string `json:"tone"`
	Drivers                []string `json:"drivers"`
	Recommendations        []string `json:"recommendations"`
	ManagerRecommendations []string `json:"managerRecommendations"`
}

type Scorecard struct {
	Title       string  `json:"title"`
	Score       float64 `json:"score"`
	Target      float64 `json:"target"`
	Description string  `json:"description"`
}

// CallSummary is the result of summarize_call.
type CallSummary struct {
	CallSummary CallSummaryDetails `json:"callSummary"`
	Sentiment   Sentiment          `json:"sentiment"`
	Scorecards  []Scorecard        `json:"scorecards"`
}

type ChecklistItem struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
}

type ChecklistRequest struct {
	TranscriptText string          `json:"transcript_text" validate:"required"`
	Checklist      []ChecklistItem `json:"checklist" validate:"required,min=1,dive"`
}

// ScoreChecklistPayload is the body of score_checklist.
type ScoreChecklistPayload struct {
	Request ChecklistRequest `json:"request"`
}

// ChecklistVerdict is one element of the score_checklist result.
type ChecklistVerdict struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Passed   bool    `json:"passed"`
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence,omitempty"`
}

// BackendHealth is the result of health.
type BackendHealth struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	Error    string `json:"error,omitempty"`
}
