package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vango-go/vai-coach/pkg/core/live"
)

type LiveTransport string

const (
	LiveTransportWebSocket LiveTransport = "websocket"
	LiveTransportGenAI     LiveTransport = "genai"
)

type FallbackSTT string

const (
	FallbackSTTNone     FallbackSTT = "none"
	FallbackSTTCartesia FallbackSTT = "cartesia"
)

type Config struct {
	Addr string

	// Empty disables bearer auth; the bridge then relies on binding to localhost.
	APIKeys map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live session to the remote service.
	LiveTransport        LiveTransport
	LiveURL              string
	LiveModel            string
	GeminiAPIKey         string
	LiveHandshakeTimeout time.Duration
	LiveWriteTimeout     time.Duration
	LivePingInterval     time.Duration
	LiveAudioQueue       int

	// Capture and framing.
	AudioFrameSamples  int
	AudioVADThreshold  float64
	AudioSampleRate    int
	TransitionCooldown time.Duration

	// Fallback input.
	FallbackMinChars int
	FallbackSTT      FallbackSTT
	CartesiaAPIKey   string
	FallbackLanguage string

	ScriptFile  string
	DatabaseURL string

	// Browser event stream (/v1/call/events).
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("COACH_ADDR", "127.0.0.1:8787"),
		APIKeys:              make(map[string]struct{}),
		CORSAllowedOrigins:   make(map[string]struct{}),
		LiveTransport:        LiveTransport(envOr("COACH_LIVE_TRANSPORT", string(LiveTransportWebSocket))),
		LiveURL:              envOr("COACH_LIVE_URL", live.DefaultLiveURL),
		LiveModel:            envOr("COACH_LIVE_MODEL", "models/gemini-2.0-flash-live-001"),
		GeminiAPIKey:         envOr("GEMINI_API_KEY", ""),
		LiveHandshakeTimeout: envDurationOr("COACH_LIVE_HANDSHAKE_TIMEOUT", 10*time.Second),
		LiveWriteTimeout:     envDurationOr("COACH_LIVE_WRITE_TIMEOUT", 5*time.Second),
		LivePingInterval:     envDurationOr("COACH_LIVE_PING_INTERVAL", 20*time.Second),
		LiveAudioQueue:       envIntOr("COACH_LIVE_AUDIO_QUEUE", 64),
		AudioFrameSamples:    envIntOr("COACH_AUDIO_FRAME_SAMPLES", 4096),
		AudioVADThreshold:    envFloat64Or("COACH_AUDIO_VAD_THRESHOLD", 0.01),
		AudioSampleRate:      envIntOr("COACH_AUDIO_SAMPLE_RATE", 0),
		TransitionCooldown:   envDurationOr("COACH_TRANSITION_COOLDOWN", 8*time.Second),
		FallbackMinChars:     envIntOr("COACH_FALLBACK_MIN_CHARS", 3),
		FallbackSTT:          FallbackSTT(envOr("COACH_FALLBACK_STT", string(FallbackSTTNone))),
		CartesiaAPIKey:       envOr("CARTESIA_API_KEY", ""),
		FallbackLanguage:     envOr("COACH_FALLBACK_LANGUAGE", "fr"),
		ScriptFile:           envOr("COACH_SCRIPT_FILE", ""),
		DatabaseURL:          envOr("COACH_DATABASE_URL", ""),
		WSPingInterval:       envDurationOr("COACH_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("COACH_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:    envDurationOr("COACH_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("COACH_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		LogFormat:            strings.ToLower(envOr("COACH_LOG_FORMAT", "text")),
	}

	for _, key := range splitCSV(os.Getenv("COACH_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("COACH_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.LiveTransport {
	case LiveTransportWebSocket, LiveTransportGenAI:
	default:
		return Config{}, fmt.Errorf("COACH_LIVE_TRANSPORT must be one of websocket|genai")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("COACH_LIVE_MODEL must not be empty")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LivePingInterval <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveAudioQueue <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_AUDIO_QUEUE must be > 0")
	}
	if cfg.AudioFrameSamples <= 0 {
		return Config{}, fmt.Errorf("COACH_AUDIO_FRAME_SAMPLES must be > 0")
	}
	if cfg.AudioVADThreshold <= 0 || cfg.AudioVADThreshold >= 1 {
		return Config{}, fmt.Errorf("COACH_AUDIO_VAD_THRESHOLD must be in (0, 1)")
	}
	if cfg.AudioSampleRate < 0 {
		return Config{}, fmt.Errorf("COACH_AUDIO_SAMPLE_RATE must be >= 0")
	}
	if cfg.TransitionCooldown <= 0 {
		return Config{}, fmt.Errorf("COACH_TRANSITION_COOLDOWN must be > 0")
	}
	if cfg.FallbackMinChars <= 0 {
		return Config{}, fmt.Errorf("COACH_FALLBACK_MIN_CHARS must be > 0")
	}
	switch cfg.FallbackSTT {
	case FallbackSTTNone:
	case FallbackSTTCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("CARTESIA_API_KEY must be set when COACH_FALLBACK_STT=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("COACH_FALLBACK_STT must be one of none|cartesia")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("COACH_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COACH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	level, err := parseLevel(envOr("COACH_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("COACH_LOG_FORMAT must be one of text|json")
	}

	return cfg, nil
}

// NewLogger builds the process logger described by cfg.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("COACH_LOG_LEVEL must be one of debug|info|warn|error")
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
