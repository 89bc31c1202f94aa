package whisper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mq-rpc/message"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		body, _ := io.ReadAll(f)
		if hdr.Filename != "call.wav" || string(body) != "RIFF....WAVE" {
			t.Errorf("unexpected upload %s %q", hdr.Filename, body)
		}
		if r.FormValue("response_format") != "verbose_json" || r.FormValue("language") != "de" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		if r.FormValue("translate") != "" {
			t.Error("translate must be unset for transcribe")
		}
		fmt.Fprint(w, `{"text":" hallo welt ","language":"de","segments":[
			{"id":0,"start":0,"end":1.2,"text":" hallo","words":[{"word":"hallo","start":0,"end":1.2,"probability":0.9}]},
			{"id":1,"start":1.2,"end":2.5,"text":" welt"}]}`)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := c.TranscribeFile(context.Background(), writeAudio(t), message.TranscriptionOptions{Language: "de"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "hallo welt" || tr.Language != "de" {
		t.Fatalf("unexpected transcription %+v", tr)
	}
	if len(tr.Segments) != 2 || tr.Segments[1].Text != "welt" {
		t.Fatalf("unexpected segments %+v", tr.Segments)
	}
	if tr.Duration != 2.5 {
		t.Fatalf("expect duration from last segment, got %v", tr.Duration)
	}
	if len(tr.Words) != 0 {
		t.Fatal("words only with word_timestamps")
	}
}

func TestTranscribeFileWordsAndTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if r.FormValue("translate") != "true" || r.FormValue("word_timestamps") != "true" || r.FormValue("prompt") != "names: Acme" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		fmt.Fprint(w, `{"text":"hello","language":"en","duration":1,"segments":[
			{"id":0,"start":0,"end":1,"text":"hello","words":[{"word":"hello","start":0,"end":1,"probability":0.8}]}]}`)
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL})
	tr, err := c.TranscribeFile(context.Background(), writeAudio(t), message.TranscriptionOptions{
		Task: "translate", WordTimestamps: true, InitialPrompt: "names: Acme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Words) != 1 || tr.Words[0].Word != "hello" {
		t.Fatalf("unexpected words %+v", tr.Words)
	}
}

func TestTranscribeFileServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL})
	_, err := c.TranscribeFile(context.Background(), writeAudio(t), message.TranscriptionOptions{})
	if err == nil || !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTranscribeFileMissing(t *testing.T) {
	c, _ := New(Config{URL: "http://127.0.0.1:1"})
	_, err := c.TranscribeFile(context.Background(), "/no/such/file.wav", message.TranscriptionOptions{})
	if err == nil || !strings.Contains(err.Error(), "open audio file") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expect error for empty url")
	}
}
