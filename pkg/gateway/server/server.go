package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-coach/pkg/gateway/config"
	"github.com/vango-go/vai-coach/pkg/gateway/handlers"
	"github.com/vango-go/vai-coach/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-coach/pkg/gateway/mw"
)

// Deps are the collaborators the bridge exposes.
type Deps struct {
	Calls handlers.CallController
	// Reports is nil when persistence is disabled.
	Reports handlers.ReportStore
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	calls     handlers.CallController
	reports   handlers.ReportStore
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		calls:     deps.Calls,
		reports:   deps.Reports,
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	ready := handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle, Calls: s.calls}
	if p, ok := s.reports.(handlers.Pinger); ok {
		ready.Store = p
	}
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", ready)

	s.mux.Handle("/v1/call", handlers.CallSnapshotHandler{Calls: s.calls})
	s.mux.Handle("/v1/call/start", handlers.CallStartHandler{Calls: s.calls, Lifecycle: s.lifecycle, Logger: s.logger})
	s.mux.Handle("/v1/call/stop", handlers.CallStopHandler{Calls: s.calls})
	s.mux.Handle("/v1/call/text", handlers.CallTextHandler{Calls: s.calls})
	s.mux.Handle("/v1/call/events", handlers.EventsHandler{Config: s.cfg, Calls: s.calls, Logger: s.logger})
	s.mux.Handle("/v1/call/stream", handlers.StreamHandler{Config: s.cfg, Calls: s.calls})

	if s.reports != nil {
		s.mux.Handle("/v1/calls/recent", handlers.RecentReportsHandler{Store: s.reports})
		s.mux.Handle("/v1/calls/{id}", handlers.ReportHandler{Store: s.reports})
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain makes /readyz fail and refuses new calls.
func (s *Server) Drain() {
	s.lifecycle.Drain()
}

// StopCall ends the active call, if any, so its report is persisted
// before the process exits.
func (s *Server) StopCall() error {
	if s.calls == nil {
		return nil
	}
	return s.calls.StopCall()
}
