package model

// ChatChunk is one incremental fragment of assistant text, in provider order.
type ChatChunk struct {
	Index int
	Text  string
}

// TranscriptionRequest carries an uploaded audio payload, fully buffered.
type TranscriptionRequest struct {
	Audio       []byte
	Filename    string
	ContentType string
}

// TranscriptionResult is the outcome of a single transcription call.
type TranscriptionResult struct {
	Text  string
	Error string
}
