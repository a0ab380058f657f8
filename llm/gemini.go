package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"
)

type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// GeminiProvider streams chat completions through the Gemini API.
type GeminiProvider struct {
	generate generateStreamFunc
	model    string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{generate: client.Models.GenerateContentStream, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// OpenStream pulls the first response eagerly so that request failures
// surface here rather than on the first Recv.
func (p *GeminiProvider) OpenStream(ctx context.Context, system, message string) (DeltaStream, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	next, stop := iter.Pull2(p.generate(ctx, p.model, genai.Text(message), cfg))

	s := &geminiStream{next: next, stop: stop}
	first, err := s.pull()
	if err != nil && err != io.EOF {
		stop()
		return nil, fmt.Errorf("gemini: open stream: %w", err)
	}
	s.pending, s.pendingErr = first, err
	return s, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	pending    string
	pendingErr error
	primed     bool
}

func (s *geminiStream) Recv() (string, error) {
	if !s.primed {
		s.primed = true
		if s.pending != "" || s.pendingErr != nil {
			return s.pending, s.pendingErr
		}
	}
	text, err := s.pull()
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("gemini: receive: %w", err)
	}
	return text, err
}

// pull advances to the next response carrying text.
func (s *geminiStream) pull() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
