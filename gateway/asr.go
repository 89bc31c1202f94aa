package gateway

import (
	"context"

	"mq-rpc/message"
	"mq-rpc/server"
)

// ASR is the typed client of the speech-to-text pool.
type ASR struct {
	core *core
}

// NewASR routes calls to queue through caller. local, if non-nil, is the
// in-process fallback handler.
func NewASR(caller Caller, queue string, local server.Handler, opts ...Option) *ASR {
	return &ASR{core: newCore(caller, queue, message.CapabilityASR, local, opts)}
}

// TranscribeFile transcribes one audio file.
func (g *ASR) TranscribeFile(ctx context.Context, audioPath string, opts message.TranscriptionOptions, callOpts ...CallOption) (*message.Transcription, error) {
	payload := message.TranscribeFilePayload{AudioPath: audioPath, Options: opts}
	return call[*message.Transcription](ctx, g.core, message.ActionTranscribeFile, payload, callOpts)
}

// TranscribeBatch transcribes several files. Failures of single files are
// reported in the result, not as an error.
func (g *ASR) TranscribeBatch(ctx context.Context, audioPaths []string, opts message.TranscriptionOptions, callOpts ...CallOption) (*message.BatchTranscription, error) {
	payload := message.TranscribeBatchPayload{AudioPaths: audioPaths, Options: opts}
	return call[*message.BatchTranscription](ctx, g.core, message.ActionTranscribeBatch, payload, callOpts)
}
