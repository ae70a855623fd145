package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-coach/pkg/gateway/config"
	"github.com/vango-go/vai-coach/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is implemented by the report store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     CallController
	// Store is nil when report persistence is disabled.
	Store Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthEnabled   bool     `json:"auth_enabled"`
		LiveTransport string   `json:"live_transport"`
		FallbackSTT   string   `json:"fallback_stt"`
		Persistence   bool     `json:"persistence"`
		CallState     string   `json:"call_state,omitempty"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Lifecycle.Draining() {
		issues = append(issues, "draining")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	resp := readyResp{
		AuthEnabled:   len(h.Config.APIKeys) > 0,
		LiveTransport: string(h.Config.LiveTransport),
		FallbackSTT:   string(h.Config.FallbackSTT),
		Persistence:   h.Store != nil,
		Issues:        issues,
	}
	if h.Calls != nil {
		resp.CallState = h.Calls.Status().State
	}
	resp.OK = len(issues) == 0
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
