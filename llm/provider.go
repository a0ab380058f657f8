package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// DeltaStream yields the incremental text of one assistant reply.
// Recv never returns an empty delta; it returns io.EOF once the provider closes the stream.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// ChatProvider opens a streaming completion for a persona and a single user turn.
type ChatProvider interface {
	Name() string
	OpenStream(ctx context.Context, system, message string) (DeltaStream, error)
}

// StatusCode extracts the upstream HTTP status from a provider error, if any.
func StatusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) && gErr.Code != 0 {
		return gErr.Code, true
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr.Code != 0 {
		return gErrPtr.Code, true
	}
	return 0, false
}

// IsRateLimited reports whether the provider rejected the call with HTTP 429.
func IsRateLimited(err error) bool {
	status, ok := StatusCode(err)
	return ok && status == http.StatusTooManyRequests
}
