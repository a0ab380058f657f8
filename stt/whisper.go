package stt

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/model"
)

const (
	defaultBase = "audio"
	defaultExt  = ".wav"
)

// Browser recorders upload a Blob named "blob"; the container is then only
// known from the part's content type.
var extByMediaType = map[string]string{
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/wav":   ".wav",
	"audio/wave":  ".wav",
	"audio/x-wav": ".wav",
	"audio/flac":  ".flac",
}

// audioTranscriber is the slice of *openai.Client used for speech-to-text.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperClient sends buffered audio to an OpenAI-compatible transcription endpoint.
type WhisperClient struct {
	client audioTranscriber
	model  string
}

func NewWhisperClient(apiKey, baseURL, model string, httpClient *http.Client) (*WhisperClient, error) {
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
	return &WhisperClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Transcribe uploads req.Audio as a multipart file and returns the provider's text field.
func (w *WhisperClient) Transcribe(ctx context.Context, req model.TranscriptionRequest) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: uploadName(req.Filename, req.ContentType),
		Reader:   bytes.NewReader(req.Audio),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: transcribe: %w", err)
	}
	return resp.Text, nil
}

// uploadName keeps the client's extension so the provider can sniff the
// container format, falling back to one derived from contentType.
func uploadName(name, contentType string) string {
	name = strings.ReplaceAll(filepath.Base(strings.TrimSpace(name)), " ", "-")
	if name == "." || name == "/" {
		name = ""
	}
	if filepath.Ext(name) != "" {
		return name
	}
	if name == "" {
		name = defaultBase
	}
	return name + extFor(contentType)
}

func extFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultExt
	}
	if ext, ok := extByMediaType[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return defaultExt
}
