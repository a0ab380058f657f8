package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/llm"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/relay"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type listStream struct {
	deltas []string
	err    error
	closed chan struct{}
}

func (s *listStream) Recv() (string, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *listStream) Close() error {
	if s.closed != nil {
		close(s.closed)
	}
	return nil
}

// replyProvider echoes each message back one character at a time.
type replyProvider struct {
	openErr error
	midErr  error
}

func (p *replyProvider) Name() string { return "reply" }

func (p *replyProvider) OpenStream(_ context.Context, _, message string) (llm.DeltaStream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	var deltas []string
	for _, r := range message {
		deltas = append(deltas, string(r))
	}
	return &listStream{deltas: deltas, err: p.midErr}, nil
}

func newChatRelay(t *testing.T, p llm.ChatProvider) *relay.ChatRelay {
	t.Helper()
	r, err := relay.NewChatRelay(p, "persona", 0, discard)
	require.NoError(t, err)
	return r
}

func collect(t *testing.T, frames <-chan types.Frame) (string, types.Frame) {
	t.Helper()
	var text string
	for {
		select {
		case f := <-frames:
			if f.Type != types.FrameDelta {
				return text, f
			}
			text += f.Content
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestNewChatWorker_Validates(t *testing.T) {
	msgs := make(chan string)
	frames := make(chan types.Frame)
	_, err := NewChatWorker(context.Background(), nil, msgs, frames, nil)
	require.Error(t, err)
	_, err = NewChatWorker(context.Background(), newChatRelay(t, &replyProvider{}), nil, frames, nil)
	require.Error(t, err)
	_, err = NewChatWorker(context.Background(), newChatRelay(t, &replyProvider{}), msgs, nil, nil)
	require.Error(t, err)
}

func TestChatWorker_RepliesInOrder(t *testing.T) {
	msgs := make(chan string, 2)
	frames := make(chan types.Frame, 4)
	w, err := NewChatWorker(context.Background(), newChatRelay(t, &replyProvider{}), msgs, frames, discard)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	msgs <- "first"
	msgs <- "second"

	text, end := collect(t, frames)
	require.Equal(t, "first", text)
	require.Equal(t, types.FrameDone, end.Type)
	text, end = collect(t, frames)
	require.Equal(t, "second", text)
	require.Equal(t, types.FrameDone, end.Type)
}

func TestChatWorker_ErrorFrames(t *testing.T) {
	cases := []struct {
		name     string
		provider *replyProvider
		message  string
		text     string
		code     relay.ErrorCode
	}{
		{"empty message", &replyProvider{}, "  ", "", relay.ErrorInvalidInput},
		{"open failure", &replyProvider{openErr: errors.New("refused")}, "hi", "", relay.ErrorUpstream},
		{"mid-stream failure", &replyProvider{midErr: errors.New("reset")}, "hi", "hi", relay.ErrorUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := make(chan string, 1)
			frames := make(chan types.Frame, 4)
			w, err := NewChatWorker(context.Background(), newChatRelay(t, tc.provider), msgs, frames, discard)
			require.NoError(t, err)
			w.Start()
			defer w.Stop()

			msgs <- tc.message
			text, end := collect(t, frames)
			require.Equal(t, tc.text, text)
			require.Equal(t, types.FrameError, end.Type)
			require.Equal(t, string(tc.code), end.Error)
			require.NotEmpty(t, end.Message)
		})
	}
}

func TestChatWorker_StopReleasesUpstream(t *testing.T) {
	closed := make(chan struct{})
	p := &blockingProvider{stream: &listStream{deltas: []string{"a", "b", "c"}, closed: closed}}
	msgs := make(chan string, 1)
	frames := make(chan types.Frame) // unbuffered and never read: the worker blocks on its first send
	w, err := NewChatWorker(context.Background(), newChatRelay(t, p), msgs, frames, discard)
	require.NoError(t, err)
	w.Start()

	msgs <- "hello"
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream stream was not closed")
	}
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestChatWorker_ExitsWhenMessagesClosed(t *testing.T) {
	msgs := make(chan string)
	w, err := NewChatWorker(context.Background(), newChatRelay(t, &replyProvider{}), msgs, make(chan types.Frame), discard)
	require.NoError(t, err)
	w.Start()
	close(msgs)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

type blockingProvider struct{ stream *listStream }

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) OpenStream(context.Context, string, string) (llm.DeltaStream, error) {
	return p.stream, nil
}
