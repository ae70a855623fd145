package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/gateway/lifecycle"
)

// maxTextBody bounds POST /v1/call/text bodies.
const maxTextBody = 64 << 10

// CallController is the coaching session driven over HTTP. *coach.Session
// implements it.
type CallController interface {
	StartCall(ctx context.Context) (coach.CallInfo, error)
	StopCall() error
	SendFallbackText(text string) bool
	Status() coach.Status
	Snapshot() coach.Snapshot
	Subscribe(buffer int) *coach.Subscription
}

// CallStartHandler handles POST /v1/call/start.
type CallStartHandler struct {
	Calls     CallController
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h CallStartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.Lifecycle.Draining() {
		writeCoreError(w, r, http.StatusServiceUnavailable, &core.Error{
			Type:    core.ErrInvalidState,
			Message: "bridge is draining",
			Code:    "draining",
		})
		return
	}
	info, err := h.Calls.StartCall(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Coach-Session-ID", info.SessionID)
	writeJSON(w, http.StatusOK, info)
}

// CallStopHandler handles POST /v1/call/stop. Stopping without a call
// returns the idle status.
type CallStopHandler struct {
	Calls CallController
}

func (h CallStopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if err := h.Calls.StopCall(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Calls.Status())
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Accepted bool `json:"accepted"`
}

// CallTextHandler handles POST /v1/call/text: operator-typed or externally
// transcribed speech for the current call.
type CallTextHandler struct {
	Calls CallController
}

func (h CallTextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req textRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxTextBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, core.NewInvalidRequestError("request body must be a JSON object with a text field"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}
	if h.Calls.Status().SessionID == "" {
		writeError(w, r, coach.ErrNoCall)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Accepted: h.Calls.SendFallbackText(req.Text)})
}

// CallSnapshotHandler handles GET /v1/call.
type CallSnapshotHandler struct {
	Calls CallController
}

func (h CallSnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Calls.Snapshot())
}
