package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// chatStreamer is the slice of *openai.Client used for chat.
type chatStreamer interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIProvider streams chat completions from any OpenAI-compatible endpoint (Groq, OpenAI).
type OpenAIProvider struct {
	client chatStreamer
	name   string
	model  string
}

// NewOpenAIProvider builds a provider against baseURL. A nil httpClient keeps go-openai's default.
func NewOpenAIProvider(name, apiKey, baseURL, model string, httpClient *http.Client) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

// OpenStream sends the system instruction and the user turn with stream=true.
// Errors returned here happen before any chunk has been produced.
func (p *OpenAIProvider) OpenStream(ctx context.Context, system, message string) (DeltaStream, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		Stream: true,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: open stream: %w", p.name, err)
	}
	return &openAIStream{stream: stream, name: p.name}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	name   string
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", err
			}
			return "", fmt.Errorf("%s: receive: %w", s.name, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if chunk := resp.Choices[0].Delta.Content; chunk != "" {
			return chunk, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
