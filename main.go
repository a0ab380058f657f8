package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/auth"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/config"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/llm"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/relay"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/server"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/storage"
	"github.com/Deepa2410-ux/OneCard-SmartAssist/stt"
)

// Upstream calls are bounded by the request context. These only cap a
// provider that never connects or never starts answering; a streaming body
// may take as long as it needs.
const (
	dialTimeout           = 10 * time.Second
	responseHeaderTimeout = 60 * time.Second
)

func main() {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	httpClient := newUpstreamClient()

	provider, err := newChatProvider(ctx, cfg.Chat, httpClient)
	if err != nil {
		return err
	}
	chat, err := relay.NewChatRelay(provider, cfg.Chat.Persona, cfg.Chat.Pace, logger)
	if err != nil {
		return err
	}

	whisper, err := stt.NewWhisperClient(cfg.Transcription.APIKey, cfg.Transcription.BaseURL, cfg.Transcription.Model, httpClient)
	if err != nil {
		return err
	}
	transcription, err := relay.NewTranscriptionRelay(whisper, cfg.Server.MaxUploadBytes, logger)
	if err != nil {
		return err
	}

	var authApp *fiber.App
	if cfg.AuthEnabled() {
		db, err := storage.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.EnsureSchema(ctx, db); err != nil {
			return err
		}
		users, err := storage.NewUserRepository(db)
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		if authApp, err = auth.NewRouter(users, tokens, logger); err != nil {
			return err
		}
	} else {
		logger.Warn("DATABASE_URL not set, auth routes disabled")
	}

	app, err := server.New(server.Dependencies{
		Chat:           chat,
		Transcription:  transcription,
		AuthApp:        authApp,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		BaseContext:    ctx,
		Logger:         logger,
		AccessLog:      os.Stdout,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "provider", provider.Name(), "auth", cfg.AuthEnabled())
		return app.Listen(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return app.ShutdownWithContext(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newUpstreamClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = dialTimeout
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: transport}
}

func newChatProvider(ctx context.Context, c config.Chat, httpClient *http.Client) (llm.ChatProvider, error) {
	switch c.Provider {
	case config.ProviderGemini:
		return llm.NewGeminiProvider(ctx, c.APIKey, c.Model)
	case config.ProviderGroq, config.ProviderOpenAI:
		return llm.NewOpenAIProvider(c.Provider, c.APIKey, c.BaseURL, c.Model, httpClient)
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", c.Provider)
	}
}
