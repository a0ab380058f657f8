package output

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

// FrameConn is the write side of a WebSocket connection.
type FrameConn interface {
	WriteJSON(v interface{}) error
}

// WebSocketOutput is the only writer on a session's socket; frames leave in
// the order they were queued.
type WebSocketOutput struct {
	ctx          context.Context
	cancel       context.CancelFunc
	FrameChannel <-chan types.Frame
	ws           FrameConn
	logger       *slog.Logger
	done         chan struct{}
}

func NewWebSocketOutput(parent context.Context, ws FrameConn, frameChannel <-chan types.Frame, logger *slog.Logger) (*WebSocketOutput, error) {
	if ws == nil {
		return nil, fmt.Errorf("websocket connection is required")
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
	return &WebSocketOutput{
		ctx:          ctx,
		cancel:       cancel,
		FrameChannel: frameChannel,
		ws:           ws,
		logger:       logger,
		done:         make(chan struct{}),
	}, nil
}

func (o *WebSocketOutput) Start() {
	go func() {
		defer close(o.done)
		for {
			select {
			case <-o.ctx.Done():
				return
			case frame, ok := <-o.FrameChannel:
				if !ok {
					return
				}
				if err := o.ws.WriteJSON(frame); err != nil {
					o.logger.Warn("websocket frame write failed", "type", frame.Type, "err", err)
					o.cancel()
					return
				}
			}
		}
	}()
}

func (o *WebSocketOutput) Stop() {
	o.cancel()
}

// Done is closed once the writer goroutine has exited.
func (o *WebSocketOutput) Done() <-chan struct{} {
	return o.done
}
