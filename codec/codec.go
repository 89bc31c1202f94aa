// Package codec serializes envelopes for the broker.
//
// The codec is chosen per message by its content type, so workers always
// answer in the encoding the caller used.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/x-mqrpc-binary"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
	ContentType() string
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ForContentType resolves the codec for a message content type.
// An empty content type means JSON.
func ForContentType(contentType string) (Codec, error) {
	switch contentType {
	case "", ContentTypeJSON:
		return &JSONCodec{}, nil
	case ContentTypeBinary:
		return &BinaryCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported content type %q", contentType)
}

// Parse maps a configured codec name ("json" or "binary") to its type.
func Parse(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
