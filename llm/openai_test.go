package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sseChunk renders one chat.completion.chunk SSE event carrying delta.
func sseChunk(delta string) string {
	return fmt.Sprintf("data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
}

func newFakeCompletions(t *testing.T, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		if captured != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	}))
}

func newTestProvider(t *testing.T, srv *httptest.Server) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider("groq", "gsk-test", srv.URL, "llama-test", &http.Client{Timeout: 2 * time.Second})
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, s DeltaStream) []string {
	t.Helper()
	var out []string
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, d)
	}
}

func TestNewOpenAIProvider_Validates(t *testing.T) {
	_, err := NewOpenAIProvider("groq", "", "", "m", nil)
	require.ErrorContains(t, err, "API key")
	_, err = NewOpenAIProvider("groq", "k", "", "", nil)
	require.ErrorContains(t, err, "model")

	p, err := NewOpenAIProvider("", "k", "", "m", nil)
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
}

func TestOpenAIProvider_StreamsDeltasInOrder(t *testing.T) {
	body := sseChunk("Hello") + sseChunk("") + sseChunk(", how") + sseChunk(" can I help?") + "data: [DONE]\n\n"
	var captured map[string]any
	srv := newFakeCompletions(t, body, &captured)
	defer srv.Close()

	s, err := newTestProvider(t, srv).OpenStream(context.Background(), "be calm", "my card is blocked")
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []string{"Hello", ", how", " can I help?"}, drain(t, s))

	require.Equal(t, "llama-test", captured["model"])
	require.Equal(t, true, captured["stream"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Equal(t, "be calm", msgs[0].(map[string]any)["content"])
	require.Equal(t, "user", msgs[1].(map[string]any)["role"])
	require.Equal(t, "my card is blocked", msgs[1].(map[string]any)["content"])
}

func TestOpenAIProvider_EmptyStream(t *testing.T) {
	srv := newFakeCompletions(t, "data: [DONE]\n\n", nil)
	defer srv.Close()

	s, err := newTestProvider(t, srv).OpenStream(context.Background(), "sys", "hi")
	require.NoError(t, err)
	defer s.Close()
	require.Empty(t, drain(t, s))
}

func TestOpenAIProvider_SkipsChunksWithoutChoices(t *testing.T) {
	body := "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[]}\n\n" + sseChunk("ok") + "data: [DONE]\n\n"
	srv := newFakeCompletions(t, body, nil)
	defer srv.Close()

	s, err := newTestProvider(t, srv).OpenStream(context.Background(), "sys", "hi")
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, []string{"ok"}, drain(t, s))
}

func TestOpenAIProvider_OpenFailureCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limit reached","type":"tokens"}}`)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv).OpenStream(context.Background(), "sys", "hi")
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "groq: open stream"))
	status, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.True(t, IsRateLimited(err))
}

func TestOpenAIProvider_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv).OpenStream(context.Background(), "sys", "hi")
	require.Error(t, err)
	require.False(t, IsRateLimited(err))
	status, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestStatusCode_PlainError(t *testing.T) {
	_, ok := StatusCode(io.ErrUnexpectedEOF)
	require.False(t, ok)
}
