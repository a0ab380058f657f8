// Package session runs one chat conversation over a WebSocket connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/websocket/v2"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/output"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/workers"
)

const queueSize = 8

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     Conn
	logger *slog.Logger

	worker   *workers.ChatWorker
	output   *output.WebSocketOutput
	messages chan string
}

func New(parent context.Context, ws Conn, opener workers.StreamOpener, logger *slog.Logger) (*Session, error) {
	if ws == nil {
		return nil, errors.New("session: websocket connection is required")
	}
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	messages := make(chan string, queueSize)
	frames := make(chan types.Frame, queueSize)

	worker, err := workers.NewChatWorker(ctx, opener, messages, frames, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	out, err := output.NewWebSocketOutput(ctx, ws, frames, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Session{
		ctx:      ctx,
		cancel:   cancel,
		ws:       ws,
		logger:   logger,
		worker:   worker,
		output:   out,
		messages: messages,
	}, nil
}

// Run blocks until the client goes away, then stops the worker (cancelling
// any in-flight upstream stream) and closes the socket.
func (s *Session) Run() {
	defer s.cleanup()

	s.worker.Start()
	s.output.Start()

	for {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "err", err)
			} else {
				s.logger.Warn("websocket read failed", "err", err)
			}
			return
		}
		select {
		case s.messages <- parseMessage(msg):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) cleanup() {
	s.worker.Stop()
	s.output.Stop()
	s.cancel()
	<-s.worker.Done()
	<-s.output.Done()
	if err := s.ws.Close(); err != nil {
		s.logger.Debug("websocket close failed", "err", err)
	}
}

// parseMessage accepts {"message": "..."} or a bare text payload.
func parseMessage(raw []byte) string {
	var req types.ChatRequest
	if err := json.Unmarshal(raw, &req); err == nil {
		return req.Message
	}
	return strings.TrimSpace(string(raw))
}
