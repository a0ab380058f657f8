// Package server exposes the chat and transcription relays over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/model"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/relay"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/session"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/types"
)

const (
	multipartOverhead = 1 << 20
	minBodyLimit      = 4 << 20
)

// A "*" would not cover Authorization, and is taken literally on credentialed requests.
const allowHeaders = "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Request-ID"

// transcriptionPaths answer every error, including fiber's own, as TranscriptionResponse.
var transcriptionPaths = map[string]bool{
	"/speech-to-text":         true,
	"/whisper/speech-to-text": true,
}

type Dependencies struct {
	Chat          *relay.ChatRelay
	Transcription *relay.TranscriptionRelay
	// AuthApp is mounted at /auth when non-nil.
	AuthApp        *fiber.App
	AllowedOrigins []string
	MaxUploadBytes int
	// BaseContext bounds WebSocket sessions; cancelling it ends them.
	BaseContext context.Context
	Logger      *slog.Logger
	// AccessLog receives fiber's request log lines. Nil disables the access log.
	AccessLog io.Writer
}

type server struct {
	chat          *relay.ChatRelay
	transcription *relay.TranscriptionRelay
	baseCtx       context.Context
	logger        *slog.Logger
}

func New(deps Dependencies) (*fiber.App, error) {
	if deps.Chat == nil {
		return nil, errors.New("server: chat relay is required")
	}
	if deps.Transcription == nil {
		return nil, errors.New("server: transcription relay is required")
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &server{
		chat:          deps.Chat,
		transcription: deps.Transcription,
		baseCtx:       deps.BaseContext,
		logger:        deps.Logger,
	}

	bodyLimit := deps.MaxUploadBytes + multipartOverhead
	if bodyLimit < minBodyLimit {
		bodyLimit = minBodyLimit
	}
	app := fiber.New(fiber.Config{
		AppName:               "onecard-smartassist",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if deps.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
			Output: deps.AccessLog,
		}))
	}
	app.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/chat/stream", s.chatStream)

	app.Use("/chat/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/chat/ws", websocket.New(s.chatSocket))

	app.Post("/speech-to-text", s.speechToText)
	// Older clients still post here.
	app.Post("/whisper/speech-to-text", s.speechToText)

	if deps.AuthApp != nil {
		app.Mount("/auth", deps.AuthApp)
	}
	return app, nil
}

// corsConfig allows every method and header. A lone "*" opens every origin
// without credentials; an explicit list allows credentials for those origins.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS,HEAD",
		AllowHeaders: allowHeaders,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowOrigins = "*"
		return cfg
	}
	cfg.AllowOrigins = strings.Join(origins, ",")
	cfg.AllowCredentials = true
	return cfg
}

func (s *server) chatStream(c *fiber.Ctx) error {
	var req types.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   string(relay.ErrorInvalidInput),
			Message: "body must be JSON with a message field",
		})
	}

	ctx, cancel := context.WithCancel(c.UserContext())
	stream, err := s.chat.Open(ctx, req.Message)
	if err != nil {
		cancel()
		return c.Status(relay.HTTPStatus(err)).JSON(types.ErrorResponse{
			Error:   string(relay.CodeOf(err)),
			Message: relay.PublicMessage(err),
		})
	}

	requestID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	log := s.logger.With("request_id", requestID)

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		n, err := stream.WriteTo(ctx, w, w.Flush)
		switch {
		case err == nil:
			log.Info("chat stream finished", "chunks", stream.Chunks(), "bytes", n)
		case relay.CodeOf(err) == relay.ErrorCanceled:
			log.Info("chat client went away", "chunks", stream.Chunks(), "bytes", n, "err", err)
		default:
			log.Error("chat stream interrupted", "chunks", stream.Chunks(), "bytes", n, "err", err)
		}
	}))
	return nil
}

func (s *server) chatSocket(conn *websocket.Conn) {
	sess, err := session.New(s.baseCtx, conn, s.chat, s.logger)
	if err != nil {
		s.logger.Error("websocket session setup failed", "err", err)
		_ = conn.Close()
		return
	}
	sess.Run()
}

func (s *server) speechToText(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		fh, err = c.FormFile("audio")
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.TranscriptionResponse{Error: "audio file is required"})
	}
	f, err := fh.Open()
	if err != nil {
		s.logger.Error("upload open failed", "filename", fh.Filename, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(types.TranscriptionResponse{Error: "could not read upload"})
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error("upload read failed", "filename", fh.Filename, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(types.TranscriptionResponse{Error: "could not read upload"})
	}

	res, err := s.transcription.Transcribe(c.UserContext(), model.TranscriptionRequest{
		Audio:       audio,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
	})
	if err != nil {
		status := fiber.StatusInternalServerError
		if relay.CodeOf(err) == relay.ErrorInvalidInput {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(types.TranscriptionResponse{Error: res.Error})
	}
	return c.JSON(types.TranscriptionResponse{Text: res.Text})
}

func (s *server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		msg = fe.Message
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	if transcriptionPaths[c.Path()] {
		if status == fiber.StatusRequestEntityTooLarge {
			msg = "audio file is too large"
		}
		return c.Status(status).JSON(types.TranscriptionResponse{Error: msg})
	}
	return c.Status(status).JSON(types.ErrorResponse{Error: statusCode(status), Message: msg})
}

func statusCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusUpgradeRequired:
		return "UPGRADE_REQUIRED"
	}
	if status >= fiber.StatusInternalServerError {
		return string(relay.ErrorInternal)
	}
	return string(relay.ErrorInvalidInput)
}
