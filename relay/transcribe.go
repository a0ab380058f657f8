package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/model"
)

// Transcriber is the audio provider used by TranscriptionRelay.
type Transcriber interface {
	Transcribe(ctx context.Context, req model.TranscriptionRequest) (string, error)
}

type TranscriptionRelay struct {
	stt      Transcriber
	maxBytes int
	logger   *slog.Logger
}

func NewTranscriptionRelay(stt Transcriber, maxBytes int, logger *slog.Logger) (*TranscriptionRelay, error) {
	if stt == nil {
		return nil, errors.New("relay: transcriber must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionRelay{stt: stt, maxBytes: maxBytes, logger: logger}, nil
}

// Transcribe never panics past its boundary: every failure comes back as a
// result with an empty Text, a non-empty Error and a coded *Error.
func (r *TranscriptionRelay) Transcribe(ctx context.Context, req model.TranscriptionRequest) (model.TranscriptionResult, error) {
	if len(req.Audio) == 0 {
		err := newError(ErrorInvalidInput, "empty_audio", nil)
		return model.TranscriptionResult{Error: "audio file is empty"}, err
	}
	if r.maxBytes > 0 && len(req.Audio) > r.maxBytes {
		err := newError(ErrorInvalidInput, "audio_too_large", nil)
		return model.TranscriptionResult{Error: "audio file is too large"}, err
	}

	text, err := r.stt.Transcribe(ctx, req)
	if err != nil {
		r.logger.Error("transcription failed", "filename", req.Filename, "bytes", len(req.Audio), "err", err)
		msg := err.Error()
		if msg == "" {
			msg = "transcription failed"
		}
		return model.TranscriptionResult{Error: msg}, upstreamError("transcription_error", err)
	}
	r.logger.Debug("transcription complete", "filename", req.Filename, "bytes", len(req.Audio), "chars", len(text))
	return model.TranscriptionResult{Text: text}, nil
}
