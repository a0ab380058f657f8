package types

// ChatRequest is the body of POST /chat/stream and of every client frame on /chat/ws.
type ChatRequest struct {
	Message string `json:"message"`
}

type TranscriptionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
)

// Frame is a server-to-client message on the chat WebSocket.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
