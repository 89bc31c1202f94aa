package codec

import (
	"encoding/json"
)

// JSONCodec is the default codec. Request bodies are the flat
// {"action": ..., <payload fields>} object, so any JSON-speaking worker
// can consume the work queues.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func (c *JSONCodec) ContentType() string {
	return ContentTypeJSON
}
