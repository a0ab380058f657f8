package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/llm"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/model"
)

// ChatRelay turns one user message into a paced stream of assistant text.
type ChatRelay struct {
	provider llm.ChatProvider
	persona  string
	pace     time.Duration
	logger   *slog.Logger
}

func NewChatRelay(provider llm.ChatProvider, persona string, pace time.Duration, logger *slog.Logger) (*ChatRelay, error) {
	if provider == nil {
		return nil, errors.New("relay: chat provider must not be nil")
	}
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return nil, errors.New("relay: persona must not be empty")
	}
	if pace < 0 {
		pace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatRelay{provider: provider, persona: persona, pace: pace, logger: logger}, nil
}

// Open validates message and opens the upstream stream. A returned error
// means nothing has been produced yet.
func (r *ChatRelay) Open(ctx context.Context, message string) (*ChatStream, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, newError(ErrorInvalidInput, "empty_message", nil)
	}
	upstream, err := r.provider.OpenStream(ctx, r.persona, message)
	if err != nil {
		r.logger.Error("chat stream open failed", "provider", r.provider.Name(), "err", err)
		return nil, upstreamError(r.provider.Name()+"_open_error", err)
	}
	r.logger.Debug("chat stream opened", "provider", r.provider.Name(), "message_len", len(message))
	return &ChatStream{upstream: upstream, pace: r.pace, provider: r.provider.Name()}, nil
}

// ChatStream is a one-shot ordered sequence of ChatChunks. It is not safe for concurrent use.
type ChatStream struct {
	upstream llm.DeltaStream
	pace     time.Duration
	provider string
	next     int

	closeOnce sync.Once
}

// Next returns the next non-empty fragment, or io.EOF when the provider closed the stream.
func (s *ChatStream) Next(ctx context.Context) (model.ChatChunk, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatChunk{}, newError(ErrorCanceled, "context_done", err)
	}
	delta, err := s.upstream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.ChatChunk{}, io.EOF
		}
		if ctx.Err() != nil {
			return model.ChatChunk{}, newError(ErrorCanceled, "context_done", err)
		}
		return model.ChatChunk{}, upstreamError(s.provider+"_stream_error", err)
	}
	chunk := model.ChatChunk{Index: s.next, Text: delta}
	s.next++
	return chunk, nil
}

// WriteTo copies every fragment to w as it arrives, calling flush after each
// write and pausing for the configured pace in between. It returns the number
// of bytes written. A nil error means the provider ended the stream normally.
func (s *ChatStream) WriteTo(ctx context.Context, w io.Writer, flush func() error) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
		n, err := io.WriteString(w, chunk.Text)
		written += int64(n)
		if err != nil {
			return written, newError(ErrorCanceled, "client_write_error", err)
		}
		if flush != nil {
			if err := flush(); err != nil {
				return written, newError(ErrorCanceled, "client_flush_error", err)
			}
		}
		if err := pause(ctx, s.pace); err != nil {
			return written, newError(ErrorCanceled, "context_done", err)
		}
	}
}

// Chunks returns the number of fragments produced so far.
func (s *ChatStream) Chunks() int { return s.next }

// Close releases the upstream connection. It is safe to call more than once.
func (s *ChatStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := s.upstream.Close(); cerr != nil {
			err = fmt.Errorf("relay: close upstream: %w", cerr)
		}
	})
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
