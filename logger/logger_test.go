package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").WithComponent("client")

	log.Warn("unmatched reply", map[string]interface{}{FieldCorrelationID: "abc"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expect JSON line, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != "client" {
		t.Fatalf("expect component=client, got %v", entry[FieldComponent])
	}
	if entry[FieldCorrelationID] != "abc" {
		t.Fatalf("expect correlation id, got %v", entry[FieldCorrelationID])
	}
	if entry["level"] != "warn" {
		t.Fatalf("expect warn level, got %v", entry["level"])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expect info to be filtered, got %q", buf.String())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expect invalid level to fail")
	}
}
