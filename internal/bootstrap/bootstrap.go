// Package bootstrap builds a coaching session from the environment
// configuration. Both the bridge daemon and the terminal console use it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core/audio"
	"github.com/vango-go/vai-coach/pkg/core/fallback"
	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/core/script"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
	"github.com/vango-go/vai-coach/pkg/store/postgres"
)

// LiveDialer returns the model transport selected by COACH_LIVE_TRANSPORT.
func LiveDialer(cfg config.Config) live.Dialer {
	if cfg.LiveTransport == config.LiveTransportGenAI {
		return &live.GenAIDialer{APIKey: cfg.GeminiAPIKey, Model: cfg.LiveModel}
	}
	return &live.WebSocketDialer{
		URL:          cfg.LiveURL,
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.LiveModel,
		WriteTimeout: cfg.LiveWriteTimeout,
	}
}

// Script returns the built-in script unless COACH_SCRIPT_FILE names one.
func Script(cfg config.Config) (*script.Definition, error) {
	if cfg.ScriptFile == "" {
		return script.Default(), nil
	}
	return script.LoadFile(cfg.ScriptFile)
}

// Options maps the configuration onto session options. The caller sets the
// Recorder.
func Options(cfg config.Config, def *script.Definition, logger *slog.Logger) coach.Options {
	opts := coach.Options{
		Script: def,
		Live: live.Config{
			Dialer:           LiveDialer(cfg),
			HandshakeTimeout: cfg.LiveHandshakeTimeout,
			WriteTimeout:     cfg.LiveWriteTimeout,
			PingInterval:     cfg.LivePingInterval,
			AudioQueue:       cfg.LiveAudioQueue,
		},
		OpenDevice: func() (audio.Device, error) {
			return audio.NewMalgoDevice(cfg.AudioSampleRate, logger), nil
		},
		Framer: audio.FramerConfig{
			FrameSamples: cfg.AudioFrameSamples,
			VADThreshold: cfg.AudioVADThreshold,
			Logger:       logger,
		},
		Filter:             fallback.Filter{MinChars: cfg.FallbackMinChars},
		TransitionCooldown: cfg.TransitionCooldown,
		Logger:             logger,
	}
	if cfg.FallbackSTT == config.FallbackSTTCartesia {
		opts.Fallback = &fallback.CartesiaSource{
			APIKey:   cfg.CartesiaAPIKey,
			Language: cfg.FallbackLanguage,
			Logger:   logger,
		}
	}
	return opts
}

// App is a session plus the report store it records to, if any.
type App struct {
	Session *coach.Session
	Store   *postgres.Store
}

// New wires the session. The store is opened only when DatabaseURL is set.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	def, err := Script(cfg)
	if err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	opts := Options(cfg, def, logger)

	a := &App{}
	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL, logger, postgres.Options{})
		if err != nil {
			return nil, fmt.Errorf("open report store: %w", err)
		}
		a.Store = store
		opts.Recorder = store
	}

	session, err := coach.New(opts)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("create coach session: %w", err)
	}
	a.Session = session
	return a, nil
}

// Close ends any call, then closes the store.
func (a *App) Close() {
	_ = a.Session.Close()
	a.closeStore()
}

func (a *App) closeStore() {
	if a.Store != nil {
		a.Store.Close()
	}
}
