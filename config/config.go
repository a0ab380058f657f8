// Package config loads process configuration from an optional YAML overlay
// and the environment. Credentials are only ever read from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultAddr               = ":8000"
	DefaultGroqBaseURL        = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultChatModel          = "llama-3.3-70b-versatile"
	DefaultGeminiModel        = "gemini-2.5-flash"
	DefaultTranscriptionModel = "whisper-large-v3"
	DefaultPace               = 500 * time.Microsecond
	DefaultMaxUploadBytes     = 25 << 20
	DefaultTokenTTL           = 24 * time.Hour
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultLogLevel           = "info"

	DefaultPersona = "You are a polite and friendly credit-card support agent. " +
		"Speak in short and simple sentences. " +
		"Avoid long paragraphs and technical terms. " +
		"Help users calmly and clearly like a human support assistant."
)

type Server struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxUploadBytes  int           `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Chat struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"-"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Persona  string        `yaml:"persona"`
	Pace     time.Duration `yaml:"pace"`
}

type Transcription struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type Database struct {
	URL string `yaml:"-"`
}

type Auth struct {
	JWTSecret string        `yaml:"-"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Server        Server        `yaml:"server"`
	Chat          Chat          `yaml:"chat"`
	Transcription Transcription `yaml:"transcription"`
	Database      Database      `yaml:"-"`
	Auth          Auth          `yaml:"auth"`
	LogLevel      string        `yaml:"log_level"`
}

// AuthEnabled reports whether the auth sub-router and the users table are in use.
func (c Config) AuthEnabled() bool {
	return c.Database.URL != ""
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads CONFIG_FILE (if set), then applies environment overrides and validates.
func Load() (Config, error) {
	return load(os.LookupEnv, os.ReadFile)
}

type lookupFunc func(key string) (string, bool)

type readFileFunc func(name string) ([]byte, error)

func load(lookup lookupFunc, readFile readFileFunc) (Config, error) {
	c := Config{Chat: Chat{Pace: DefaultPace}}

	if path := get(lookup, "CONFIG_FILE"); path != "" {
		b, err := readFile(path)
		if err != nil {
			return c, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	var errs []error
	applyEnv(&c, lookup, readFile, &errs)
	applyDefaults(&c)
	errs = append(errs, validate(c)...)
	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return c, nil
}

func applyEnv(c *Config, lookup lookupFunc, readFile readFileFunc, errs *[]error) {
	setString(&c.Server.Addr, lookup, "ADDR")
	if port := get(lookup, "PORT"); port != "" && get(lookup, "ADDR") == "" {
		c.Server.Addr = ":" + port
	}
	if origins := get(lookup, "ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	setInt(&c.Server.MaxUploadBytes, lookup, "MAX_UPLOAD_BYTES", errs)
	setDuration(&c.Server.ShutdownTimeout, lookup, "SHUTDOWN_TIMEOUT", errs)

	setString(&c.Chat.Provider, lookup, "CHAT_PROVIDER")
	c.Chat.Provider = strings.ToLower(strings.TrimSpace(c.Chat.Provider))
	if c.Chat.Provider == ProviderGemini {
		c.Chat.APIKey = get(lookup, "GEMINI_API_KEY")
	} else {
		c.Chat.APIKey = firstNonEmpty(get(lookup, "CHAT_API_KEY"), get(lookup, "GROQ_API_KEY"), get(lookup, "OPENAI_API_KEY"))
	}
	setString(&c.Chat.BaseURL, lookup, "CHAT_BASE_URL")
	setString(&c.Chat.Model, lookup, "CHAT_MODEL")
	setString(&c.Chat.Persona, lookup, "PERSONA")
	if path := get(lookup, "PERSONA_FILE"); path != "" {
		b, err := readFile(path)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("config: read PERSONA_FILE: %w", err))
		} else {
			c.Chat.Persona = strings.TrimSpace(string(b))
		}
	}
	setDuration(&c.Chat.Pace, lookup, "STREAM_PACE", errs)

	c.Transcription.APIKey = get(lookup, "TRANSCRIPTION_API_KEY")
	if c.Transcription.APIKey == "" && c.Chat.Provider != ProviderGemini {
		c.Transcription.APIKey = c.Chat.APIKey
	}
	setString(&c.Transcription.BaseURL, lookup, "TRANSCRIPTION_BASE_URL")
	setString(&c.Transcription.Model, lookup, "TRANSCRIPTION_MODEL")

	c.Database.URL = get(lookup, "DATABASE_URL")
	c.Auth.JWTSecret = get(lookup, "JWT_SECRET")
	setDuration(&c.Auth.TokenTTL, lookup, "TOKEN_TTL", errs)

	setString(&c.LogLevel, lookup, "LOG_LEVEL")
}

func applyDefaults(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Chat.Provider == "" {
		c.Chat.Provider = ProviderGroq
	}
	switch c.Chat.Provider {
	case ProviderGroq:
		if c.Chat.BaseURL == "" {
			c.Chat.BaseURL = DefaultGroqBaseURL
		}
		if c.Chat.Model == "" {
			c.Chat.Model = DefaultChatModel
		}
	case ProviderOpenAI:
		if c.Chat.BaseURL == "" {
			c.Chat.BaseURL = DefaultOpenAIBaseURL
		}
		if c.Chat.Model == "" {
			c.Chat.Model = "gpt-4o-mini"
		}
	case ProviderGemini:
		if c.Chat.Model == "" {
			c.Chat.Model = DefaultGeminiModel
		}
	}
	if strings.TrimSpace(c.Chat.Persona) == "" {
		c.Chat.Persona = DefaultPersona
	}
	if c.Chat.Pace < 0 {
		c.Chat.Pace = 0
	}

	if c.Transcription.BaseURL == "" {
		if c.Chat.Provider == ProviderGemini {
			c.Transcription.BaseURL = DefaultGroqBaseURL
		} else {
			c.Transcription.BaseURL = c.Chat.BaseURL
		}
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = DefaultTranscriptionModel
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func validate(c Config) []error {
	var errs []error
	switch c.Chat.Provider {
	case ProviderGroq, ProviderOpenAI:
		if c.Chat.APIKey == "" {
			errs = append(errs, errors.New("config: GROQ_API_KEY or CHAT_API_KEY must be set"))
		}
	case ProviderGemini:
		if c.Chat.APIKey == "" {
			errs = append(errs, errors.New("config: GEMINI_API_KEY must be set when CHAT_PROVIDER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown CHAT_PROVIDER %q", c.Chat.Provider))
	}
	if c.Transcription.APIKey == "" {
		errs = append(errs, errors.New("config: TRANSCRIPTION_API_KEY must be set"))
	}
	if c.AuthEnabled() && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("config: JWT_SECRET must be set when DATABASE_URL is set"))
	}
	return errs
}

func get(lookup lookupFunc, key string) string {
	v, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func setString(dst *string, lookup lookupFunc, key string) {
	if v := get(lookup, key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, lookup lookupFunc, key string, errs *[]error) {
	v := get(lookup, key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func setDuration(dst *time.Duration, lookup lookupFunc, key string, errs *[]error) {
	v := get(lookup, key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
