package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                 "127.0.0.1:0",
		APIKeys:              map[string]struct{}{},
		CORSAllowedOrigins:   map[string]struct{}{},
		LiveTransport:        config.LiveTransportWebSocket,
		LiveURL:              live.DefaultLiveURL,
		LiveModel:            "gemini-live-test",
		GeminiAPIKey:         "test-key",
		LiveHandshakeTimeout: time.Second,
		LiveWriteTimeout:     time.Second,
		LiveAudioQueue:       8,
		AudioFrameSamples:    1024,
		AudioVADThreshold:    0.01,
		TransitionCooldown:   8 * time.Second,
		FallbackMinChars:     3,
		FallbackSTT:          config.FallbackSTTNone,
		WSPingInterval:       20 * time.Second,
		WSWriteTimeout:       5 * time.Second,
		ReadHeaderTimeout:    time.Second,
		ShutdownGracePeriod:  time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, daemonDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		buildApp: func(context.Context, config.Config, *slog.Logger) (*app, error) {
			t.Fatalf("buildApp should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunMain_ReturnsNonZeroWhenBuildFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, daemonDeps{
		loadConfig: func() (config.Config, error) { return testConfig(), nil },
		buildApp: func(context.Context, config.Config, *slog.Logger) (*app, error) {
			return nil, errors.New("no script")
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Addr: "127.0.0.1:9999", ReadHeaderTimeout: 2 * time.Second}
	srv := buildHTTPServer(cfg, http.NotFoundHandler())

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestBuildApp_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()
	if a.Store != nil {
		t.Fatalf("store opened without a database url")
	}

	ts := httptest.NewServer(a.gateway.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status=%d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/call")
	if err != nil {
		t.Fatalf("GET /v1/call error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/v1/call status=%d, want 200", resp.StatusCode)
	}
	var snap struct {
		Status struct {
			State string `json:"state"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status.State != "DISCONNECTED" {
		t.Fatalf("state=%q, want DISCONNECTED", snap.Status.State)
	}

	resp, err = http.Get(ts.URL + "/v1/calls/recent")
	if err != nil {
		t.Fatalf("GET /v1/calls/recent error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/v1/calls/recent status=%d, want 404 without persistence", resp.StatusCode)
	}
}
