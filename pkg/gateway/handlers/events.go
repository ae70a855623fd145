package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
	"github.com/vango-go/vai-coach/pkg/gateway/mw"
	"github.com/vango-go/vai-coach/pkg/gateway/sse"
)

// Event stream frame types.
const (
	EventTranscript  = "transcript"
	EventSuggestions = "suggestions"
	EventAlerts      = "alerts"
	EventProgress    = "progress"
	EventStatus      = "status"
)

// Event is one frame on the call event stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const eventReadLimit = 4 << 10

// forward copies subscription updates to emit, starting with the current
// status, until ctx ends or the subscription is closed.
func forward(ctx context.Context, sub *coach.Subscription, initial coach.Status, emit func(Event) error, ping func() error, every time.Duration) error {
	if err := emit(Event{Type: EventStatus, Data: initial}); err != nil {
		return err
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ping(); err != nil {
				return err
			}
			continue
		case v, ok := <-sub.Transcripts:
			if !ok {
				return nil
			}
			ev = Event{Type: EventTranscript, Data: v}
		case v, ok := <-sub.Suggestions:
			if !ok {
				return nil
			}
			ev = Event{Type: EventSuggestions, Data: v}
		case v, ok := <-sub.Alerts:
			if !ok {
				return nil
			}
			ev = Event{Type: EventAlerts, Data: v}
		case v, ok := <-sub.Progress:
			if !ok {
				return nil
			}
			ev = Event{Type: EventProgress, Data: v}
		case v, ok := <-sub.Status:
			if !ok {
				return nil
			}
			ev = Event{Type: EventStatus, Data: v}
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

// EventsHandler handles GET /v1/call/events as a websocket of Event frames.
// Frames from the client are ignored.
type EventsHandler struct {
	Config config.Config
	Calls  CallController
	Logger *slog.Logger
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if !mw.OriginAllowed(h.Config, r.Header.Get("Origin")) {
		writeCoreError(w, r, http.StatusForbidden, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "origin is not allowed",
			Param:   "Origin",
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("request_id", requestIDFromContext(r.Context()))
	sub := h.Calls.Subscribe(0)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingEvery := h.Config.WSPingInterval
	if pingEvery <= 0 {
		pingEvery = 20 * time.Second
	}
	writeTimeout := h.Config.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	conn.SetReadLimit(eventReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	emit := func(ev Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(ev)
	}
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	}

	logger.Debug("event stream opened")
	err = forward(ctx, sub, h.Calls.Status(), emit, ping, pingEvery)
	if err != nil {
		logger.Debug("event stream write failed", "err", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	logger.Debug("event stream closed")
}

func (h EventsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// StreamHandler handles GET /v1/call/stream, the server-sent events form
// of the event stream for clients that cannot open a websocket.
type StreamHandler struct {
	Config config.Config
	Calls  CallController
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	sw, err := sse.New(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub := h.Calls.Subscribe(0)
	defer sub.Unsubscribe()

	pingEvery := h.Config.WSPingInterval
	if pingEvery <= 0 {
		pingEvery = 20 * time.Second
	}
	if err := sw.Retry(2 * time.Second); err != nil {
		return
	}
	_ = forward(r.Context(), sub, h.Calls.Status(),
		func(ev Event) error { return sw.Send(ev.Type, ev.Data) },
		sw.Ping, pingEvery)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
