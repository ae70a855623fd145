package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/fallback"
	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		LiveTransport:        config.LiveTransportWebSocket,
		LiveURL:              live.DefaultLiveURL,
		LiveModel:            "gemini-live-test",
		GeminiAPIKey:         "test-key",
		LiveHandshakeTimeout: time.Second,
		LiveWriteTimeout:     time.Second,
		LivePingInterval:     7 * time.Second,
		LiveAudioQueue:       8,
		AudioFrameSamples:    1024,
		AudioVADThreshold:    0.01,
		TransitionCooldown:   8 * time.Second,
		FallbackMinChars:     3,
		FallbackSTT:          config.FallbackSTTNone,
	}
}

func TestLiveDialer_FollowsTransport(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	ws, ok := LiveDialer(cfg).(*live.WebSocketDialer)
	if !ok {
		t.Fatalf("websocket transport built %T", LiveDialer(cfg))
	}
	if ws.URL != cfg.LiveURL || ws.APIKey != "test-key" || ws.Model != cfg.LiveModel {
		t.Fatalf("dialer = %+v", ws)
	}

	cfg.LiveTransport = config.LiveTransportGenAI
	if _, ok := LiveDialer(cfg).(*live.GenAIDialer); !ok {
		t.Fatalf("genai transport built %T", LiveDialer(cfg))
	}
}

func TestOptions_Fallback(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	def, err := Script(cfg)
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if opts := Options(cfg, def, logger); opts.Fallback != nil {
		t.Fatalf("fallback configured without an STT: %T", opts.Fallback)
	}

	cfg.FallbackSTT = config.FallbackSTTCartesia
	cfg.CartesiaAPIKey = "sk-cartesia"
	cfg.FallbackLanguage = "fr"
	opts := Options(cfg, def, logger)
	src, ok := opts.Fallback.(*fallback.CartesiaSource)
	if !ok || src.APIKey != "sk-cartesia" || src.Language != "fr" {
		t.Fatalf("fallback = %#v", opts.Fallback)
	}
	if opts.Live.PingInterval != 7*time.Second {
		t.Fatalf("Live.PingInterval = %s", opts.Live.PingInterval)
	}
	if opts.Filter.MinChars != 3 || opts.Framer.FrameSamples != 1024 {
		t.Fatalf("options = %+v", opts)
	}
}

func TestScript_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.toml")
	body := `
[[step]]
id = "greeting"
title = "Accueil"
description = "Saluer le client"
required = true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.ScriptFile = path
	def, err := Script(cfg)
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if !def.Has("greeting") || len(def.Steps()) != 1 {
		t.Fatalf("steps = %+v", def.Steps())
	}

	cfg.ScriptFile = filepath.Join(t.TempDir(), "missing.toml")
	if _, err := Script(cfg); err == nil {
		t.Fatalf("expected an error for a missing script file")
	}
}

func TestNew_WithoutDatabase(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.Store != nil {
		t.Fatalf("store opened without a database url")
	}
	if st := a.Session.Status(); st.State != "DISCONNECTED" || st.SessionID != "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestNew_BadScriptFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ScriptFile = filepath.Join(t.TempDir(), "missing.toml")
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected an error for a missing script file")
	}
}
