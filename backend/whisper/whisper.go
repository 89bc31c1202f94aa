// Package whisper transcribes audio files through a whisper.cpp HTTP server
// (POST /inference, multipart/form-data).
package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mq-rpc/message"
)

const defaultTimeout = 10 * time.Minute

// Config configures the client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client implements handler.Transcriber.
type Client struct {
	url  string
	http *http.Client
}

// New returns a client for the server at cfg.URL.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whisper: url must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		url:  strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// TranscribeFile uploads the file at audioPath and returns its transcription.
func (c *Client) TranscribeFile(ctx context.Context, audioPath string, opts message.TranscriptionOptions) (*message.Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	// Stream the upload; audio files can be large.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, filepath.Base(audioPath), opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	return out.toTranscription(opts), nil
}

func writeForm(mw *multipart.Writer, audio io.Reader, name string, opts message.TranscriptionOptions) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	fields := map[string]string{"response_format": "verbose_json"}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.Task == "translate" {
		fields["translate"] = "true"
	}
	if opts.InitialPrompt != "" {
		fields["prompt"] = opts.InitialPrompt
	}
	if opts.WordTimestamps {
		fields["word_timestamps"] = "true"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	return mw.Close()
}

type inferenceResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []segment `json:"segments"`
}

type segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []struct {
		Word        string  `json:"word"`
		Start       float64 `json:"start"`
		End         float64 `json:"end"`
		Probability float64 `json:"probability"`
	} `json:"words"`
}

func (r *inferenceResponse) toTranscription(opts message.TranscriptionOptions) *message.Transcription {
	tr := &message.Transcription{
		Text:     strings.TrimSpace(r.Text),
		Language: r.Language,
		Duration: r.Duration,
		Segments: make([]message.Segment, 0, len(r.Segments)),
	}
	if tr.Language == "" {
		tr.Language = opts.Language
	}
	for _, s := range r.Segments {
		tr.Segments = append(tr.Segments, message.Segment{ID: s.ID, Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
		if opts.WordTimestamps {
			for _, w := range s.Words {
				tr.Words = append(tr.Words, message.Word{Word: w.Word, Start: w.Start, End: w.End, Probability: w.Probability})
			}
		}
	}
	if tr.Duration == 0 && len(r.Segments) > 0 {
		tr.Duration = r.Segments[len(r.Segments)-1].End
	}
	return tr
}
