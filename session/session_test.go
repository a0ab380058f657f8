package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/llm"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/relay"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptConn feeds queued client messages to the session and records its frames.
type scriptConn struct {
	in     chan []byte
	mu     sync.Mutex
	out    []types.Frame
	closed bool
	wrote  chan struct{}
}

func newScriptConn() *scriptConn {
	return &scriptConn{in: make(chan []byte, 4), wrote: make(chan struct{}, 64)}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.in
	if !ok {
		return 0, nil, &fws.CloseError{Code: fws.CloseNormalClosure}
	}
	return websocket.TextMessage, msg, nil
}

func (c *scriptConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	c.out = append(c.out, v.(types.Frame))
	c.mu.Unlock()
	select {
	case c.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) frames() []types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Frame(nil), c.out...)
}

// waitFor blocks until n frames have been written.
func (c *scriptConn) waitFor(t *testing.T, n int) {
	t.Helper()
	for len(c.frames()) < n {
		select {
		case <-c.wrote:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d frames, want %d", len(c.frames()), n)
		}
	}
}

type wordsProvider struct {
	deltas []string
}

func (p *wordsProvider) Name() string { return "words" }

func (p *wordsProvider) OpenStream(context.Context, string, string) (llm.DeltaStream, error) {
	return &wordStream{deltas: append([]string(nil), p.deltas...)}, nil
}

type wordStream struct{ deltas []string }

func (s *wordStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *wordStream) Close() error { return nil }

func newSession(t *testing.T, conn Conn, p llm.ChatProvider) *Session {
	t.Helper()
	r, err := relay.NewChatRelay(p, "persona", 0, discard)
	require.NoError(t, err)
	s, err := New(context.Background(), conn, r, discard)
	require.NoError(t, err)
	return s
}

func TestNew_Validates(t *testing.T) {
	_, err := New(context.Background(), nil, nil, discard)
	require.Error(t, err)
	_, err = New(context.Background(), newScriptConn(), nil, discard)
	require.Error(t, err)
}

func TestSession_RunsConversation(t *testing.T) {
	conn := newScriptConn()
	s := newSession(t, conn, &wordsProvider{deltas: []string{"Sure", ", done."}})

	finished := make(chan struct{})
	go func() {
		s.Run()
		close(finished)
	}()

	conn.in <- []byte(`{"message":"block my card"}`)
	conn.waitFor(t, 3)
	conn.in <- []byte("plain text works too")
	conn.waitFor(t, 6)
	close(conn.in)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after the client closed")
	}

	want := []types.Frame{
		{Type: types.FrameDelta, Content: "Sure"},
		{Type: types.FrameDelta, Content: ", done."},
		{Type: types.FrameDone},
	}
	require.Equal(t, append(want, want...), conn.frames())
	require.True(t, conn.closed)
}

type erroringConn struct{ *scriptConn }

func (c erroringConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("connection reset by peer")
}

func TestSession_ReadErrorEndsSession(t *testing.T) {
	conn := erroringConn{newScriptConn()}
	s := newSession(t, conn, &wordsProvider{})
	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on read error")
	}
	require.True(t, conn.closed)
}

type endlessStream struct{ closed chan struct{} }

func (s *endlessStream) Recv() (string, error) { return "more ", nil }

func (s *endlessStream) Close() error {
	close(s.closed)
	return nil
}

type endlessProvider struct{ stream *endlessStream }

func (p *endlessProvider) Name() string { return "endless" }

func (p *endlessProvider) OpenStream(context.Context, string, string) (llm.DeltaStream, error) {
	return p.stream, nil
}

func TestSession_CloseDuringReplyReleasesUpstream(t *testing.T) {
	conn := newScriptConn()
	stream := &endlessStream{closed: make(chan struct{})}
	s := newSession(t, conn, &endlessProvider{stream: stream})

	finished := make(chan struct{})
	go func() {
		s.Run()
		close(finished)
	}()

	conn.in <- []byte(`{"message":"keep talking"}`)
	conn.waitFor(t, 1)
	close(conn.in)

	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream stream was not closed")
	}
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	require.True(t, conn.closed)
}

func TestParseMessage(t *testing.T) {
	require.Equal(t, "hi", parseMessage([]byte(`{"message":"hi"}`)))
	require.Equal(t, "hi there", parseMessage([]byte("  hi there \n")))
	require.Equal(t, "", parseMessage([]byte(`{"other":"x"}`)))
}
