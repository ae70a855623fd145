// Command coachd runs the coaching session behind a localhost HTTP bridge
// for the agent's browser UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-coach/internal/bootstrap"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-coach/pkg/gateway/server"
)

type daemonDeps struct {
	loadConfig   func() (config.Config, error)
	buildApp     func(context.Context, config.Config, *slog.Logger) (*app, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		loadConfig: config.LoadFromEnv,
		buildApp:   buildApp,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// app is the wired daemon: one coaching session, the bridge in front of it
// and the optional report store.
type app struct {
	*bootstrap.App
	gateway *gatewayserver.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := gatewayserver.Deps{Calls: a.Session}
	if a.Store != nil {
		deps.Reports = a.Store
	}
	return &app{App: a, gateway: gatewayserver.New(cfg, logger, deps)}, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runDaemon(ctx context.Context, stderr io.Writer, deps daemonDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildApp == nil {
		return errors.New("missing buildApp dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(stderr)

	a, err := deps.buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	httpSrv := buildHTTPServer(cfg, a.gateway.Handler())

	logger.Info("starting coach bridge",
		"addr", cfg.Addr,
		"live_transport", cfg.LiveTransport,
		"fallback_stt", cfg.FallbackSTT,
		"persistence", a.Store != nil,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	a.gateway.Drain()
	if err := a.gateway.StopCall(); err != nil {
		logger.Warn("stop active call", "err", err)
	}
	// Closing the session ends every event stream so Shutdown does not
	// wait on them.
	_ = a.Session.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("coach bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps daemonDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "coachd: %v\n", err)
		return 1
	}
	if err := runDaemon(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "coachd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultDaemonDeps()))
}
