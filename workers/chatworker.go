package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/relay"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

// StreamOpener is satisfied by *relay.ChatRelay.
type StreamOpener interface {
	Open(ctx context.Context, message string) (*relay.ChatStream, error)
}

// ChatWorker answers messages one at a time, in arrival order, turning each
// reply into delta frames followed by a done or error frame.
type ChatWorker struct {
	ctx            context.Context
	cancel         context.CancelFunc
	relay          StreamOpener
	MessageChannel <-chan string
	FrameChannel   chan<- types.Frame
	logger         *slog.Logger
	done           chan struct{}
}

func NewChatWorker(parent context.Context, opener StreamOpener, messageChannel <-chan string, frameChannel chan<- types.Frame, logger *slog.Logger) (*ChatWorker, error) {
	if opener == nil {
		return nil, fmt.Errorf("chat relay is required")
	}
	if messageChannel == nil {
		return nil, fmt.Errorf("message channel is required")
	}
	if frameChannel == nil {
		return nil, fmt.Errorf("frame channel is required")
	}
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &ChatWorker{
		ctx:            ctx,
		cancel:         cancel,
		relay:          opener,
		MessageChannel: messageChannel,
		FrameChannel:   frameChannel,
		logger:         logger,
		done:           make(chan struct{}),
	}, nil
}

func (w *ChatWorker) Start() {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.ctx.Done():
				return
			case message, ok := <-w.MessageChannel:
				if !ok {
					return
				}
				w.respond(message)
			}
		}
	}()
}

// Stop cancels the in-flight reply, which releases its upstream stream.
func (w *ChatWorker) Stop() {
	w.cancel()
}

// Done is closed once the worker goroutine has exited.
func (w *ChatWorker) Done() <-chan struct{} {
	return w.done
}

func (w *ChatWorker) respond(message string) {
	stream, err := w.relay.Open(w.ctx, message)
	if err != nil {
		w.send(errorFrame(err))
		return
	}
	defer stream.Close()

	_, err = stream.WriteTo(w.ctx, frameSink{w}, nil)
	switch {
	case err == nil:
		w.send(types.Frame{Type: types.FrameDone})
	case relay.CodeOf(err) == relay.ErrorCanceled:
		w.logger.Debug("chat reply abandoned", "chunks", stream.Chunks(), "err", err)
	default:
		w.logger.Error("chat reply interrupted", "chunks", stream.Chunks(), "err", err)
		w.send(errorFrame(err))
	}
}

func (w *ChatWorker) send(f types.Frame) bool {
	select {
	case w.FrameChannel <- f:
		return true
	case <-w.ctx.Done():
		return false
	}
}

var errWorkerStopped = errors.New("chat worker stopped")

// frameSink turns every write into one delta frame.
type frameSink struct{ w *ChatWorker }

func (s frameSink) Write(p []byte) (int, error) {
	if !s.w.send(types.Frame{Type: types.FrameDelta, Content: string(p)}) {
		return 0, errWorkerStopped
	}
	return len(p), nil
}

func errorFrame(err error) types.Frame {
	return types.Frame{
		Type:    types.FrameError,
		Error:   string(relay.CodeOf(err)),
		Message: relay.PublicMessage(err),
	}
}
