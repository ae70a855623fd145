package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
)

var (
	// ErrNotOpen is returned by sends attempted outside StateOpen.
	ErrNotOpen = core.NewInvalidStateError("live session is not open")
	// ErrAudioDropped is returned when the outbound audio queue is full.
	ErrAudioDropped = core.NewInvalidStateError("live audio queue full; frame dropped")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultAudioQueue       = 64
	defaultEventBuffer      = 256
)

// Config configures a Manager.
type Config struct {
	Dialer Dialer

	// Instruction is sent once per session, right after the connection opens.
	// Use BuildInstruction to render it from a script definition.
	Instruction string

	// HandshakeTimeout bounds dial plus transport setup. Default: 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds queueing a text turn and each keepalive. Default: 5s.
	WriteTimeout time.Duration
	// PingInterval applies to connections that implement Pinger. Default: 20s.
	PingInterval time.Duration
	// AudioQueue is the number of frames buffered before new frames are dropped. Default: 64.
	AudioQueue int
	// EventBuffer is the capacity of the Events channel. Default: 256.
	EventBuffer int

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns one live connection at a time.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	events chan Event

	mu         sync.Mutex
	state      State
	sess       *session
	dialCancel context.CancelFunc

	malformed atomic.Int64
}

type session struct {
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc

	priority chan ClientMessage
	audio    chan ClientMessage

	handshook chan struct{}
	done      chan struct{}
	readDone  chan struct{}
	writeDone chan struct{}

	err        error
	finishOnce sync.Once
	closeOnce  sync.Once
	dropped    atomic.Int64
}

func (s *session) closeConn() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// NewManager validates cfg and returns a disconnected Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, core.NewInvalidRequestError("live manager requires a dialer")
	}
	if strings.TrimSpace(cfg.Instruction) == "" {
		return nil, core.NewInvalidRequestError("live manager requires a session instruction")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = defaultAudioQueue
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    now,
		events: make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events yields inbound events for the lifetime of the Manager. Each session
// ends with exactly one ClosedEvent.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MalformedCount returns how many model outputs were discarded as malformed.
func (m *Manager) MalformedCount() int64 {
	return m.malformed.Load()
}

// Open dials the service and performs the instruction handshake. It returns
// once the instruction has been written or the session has failed.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if !CanTransition(m.state, StateConnecting) {
		st := m.state
		m.mu.Unlock()
		return core.NewInvalidStateError(fmt.Sprintf("cannot open live session in state %s", st))
	}
	m.setStateLocked(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	m.dialCancel = cancel
	m.mu.Unlock()

	conn, err := m.cfg.Dialer.Dial(dialCtx)
	cancel()

	m.mu.Lock()
	m.dialCancel = nil
	if m.state == StateClosing {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return core.NewConnectionError("live session closed while connecting", context.Canceled)
	}
	if err != nil {
		m.setStateLocked(StateError)
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		if !core.IsType(err, core.ErrConnection) && !core.IsType(err, core.ErrAuthentication) {
			err = core.NewConnectionError("dial live service", err)
		}
		m.logger.Error("live session connect failed", "err", err)
		m.emitClosed(ClosedEvent{Err: err, At: m.now()})
		return err
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &session{
		conn:      conn,
		ctx:       sctx,
		cancel:    scancel,
		priority:  make(chan ClientMessage, 16),
		audio:     make(chan ClientMessage, m.cfg.AudioQueue),
		handshook: make(chan struct{}),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	m.sess = s
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	handshake := ClientMessage{Kind: ClientInstruction, Text: m.cfg.Instruction}
	w := &outboundWriter{
		conn:         conn,
		ctx:          sctx,
		priority:     s.priority,
		audio:        s.audio,
		pingInterval: m.cfg.PingInterval,
		writeTimeout: m.cfg.WriteTimeout,
		handshake:    &handshake,
		onHandshake:  func() { close(s.handshook) },
	}
	go m.writeLoop(s, w)
	go m.readLoop(s)

	select {
	case <-s.handshook:
		m.logger.Info("live session open", "instruction_bytes", len(m.cfg.Instruction))
		return nil
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return core.NewConnectionError("live session closed during handshake", context.Canceled)
	case <-ctx.Done():
		m.finish(s, core.NewConnectionError("live session handshake canceled", ctx.Err()))
		return s.err
	}
}

// SendAudio queues one PCM frame without blocking. Frames are dropped with a
// warning when the session is not open or the queue is full.
func (m *Manager) SendAudio(pcm []byte, mimeType string) error {
	s, err := m.openSession("audio frame")
	if err != nil {
		return err
	}
	select {
	case s.audio <- ClientMessage{Kind: ClientAudio, Audio: pcm, MIMEType: mimeType}:
		return nil
	default:
		if n := s.dropped.Add(1); n == 1 || n%50 == 0 {
			m.logger.Warn("live audio queue full; dropping frame", "dropped", n, "queue", cap(s.audio))
		}
		return ErrAudioDropped
	}
}

// SendText sends a complete text turn prefixed with the context snapshot.
func (m *Manager) SendText(text string, snap ContextSnapshot) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.NewInvalidRequestErrorWithParam("text must not be empty", "text")
	}
	s, err := m.openSession("text turn")
	if err != nil {
		return err
	}
	return m.enqueue(s, s.priority, ClientMessage{Kind: ClientText, Text: FormatTurn(text, snap)})
}

// EndAudio tells the service no more audio will follow. It is queued behind
// frames already accepted.
func (m *Manager) EndAudio() error {
	s, err := m.openSession("audio stream end")
	if err != nil {
		return err
	}
	return m.enqueue(s, s.audio, ClientMessage{Kind: ClientAudioEnd})
}

func (m *Manager) enqueue(s *session, lane chan ClientMessage, msg ClientMessage) error {
	timer := time.NewTimer(m.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case lane <- msg:
		return nil
	case <-s.done:
		return ErrNotOpen
	case <-timer.C:
		return core.NewConnectionError("live outbound queue did not drain", context.DeadlineExceeded)
	}
}

func (m *Manager) openSession(what string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.sess == nil {
		m.logger.Warn("live session not open; dropping "+what, "state", m.state)
		return nil, ErrNotOpen
	}
	return m.sess, nil
}

// Close shuts the session down: queued messages get a short flush, then the
// connection is closed and a ClosedEvent with a nil error is emitted. Closing
// a disconnected Manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.setStateLocked(StateClosing)
		if m.dialCancel != nil {
			m.dialCancel()
		}
		m.mu.Unlock()
		return nil
	case StateOpen:
	default:
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateClosing)
	s := m.sess
	m.mu.Unlock()

	s.cancel()
	select {
	case <-s.writeDone:
	case <-time.After(m.cfg.WriteTimeout):
		m.logger.Warn("live writer did not stop in time")
	}
	s.closeConn()
	<-s.readDone
	m.finish(s, nil)
	return nil
}

func (m *Manager) writeLoop(s *session, w *outboundWriter) {
	defer close(s.writeDone)
	if err := w.Run(); err != nil && s.ctx.Err() == nil {
		m.finish(s, core.NewConnectionError("live send failed", err))
	}
}

func (m *Manager) readLoop(s *session) {
	defer close(s.readDone)

	var pending strings.Builder
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.ctx.Err() == nil {
				m.finish(s, core.NewConnectionError("live connection lost", err))
			}
			return
		}
		now := m.now()

		if t := strings.TrimSpace(msg.Transcript); t != "" {
			m.emit(TranscriptEvent{Text: t, At: now})
		}

		if msg.ModelText != "" {
			pending.WriteString(msg.ModelText)
			if a, err := ParseAnalysis(pending.String()); err == nil {
				m.emit(AnalysisEvent{Analysis: a, Raw: pending.String(), At: now})
				pending.Reset()
			}
		}

		if msg.TurnComplete {
			if rest := pending.String(); strings.TrimSpace(stripFences(rest)) != "" {
				_, err := ParseAnalysis(rest)
				m.malformed.Add(1)
				m.logger.Warn("discarding malformed model output", "err", err, "bytes", len(rest))
			}
			pending.Reset()
			m.emit(TurnCompleteEvent{At: now})
		}

		if msg.GoAway {
			m.logger.Warn("live service announced disconnect")
		}
	}
}

// finish tears a session down exactly once. A non-nil cause moves the state
// through Error.
func (m *Manager) finish(s *session, cause error) {
	s.finishOnce.Do(func() {
		m.mu.Lock()
		if cause != nil && CanTransition(m.state, StateError) {
			m.setStateLocked(StateError)
		}
		if m.sess == s {
			m.sess = nil
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()

		s.err = cause
		s.cancel()
		s.closeConn()
		close(s.done)

		if cause != nil {
			m.logger.Error("live session closed", "err", cause)
		} else {
			m.logger.Info("live session closed")
		}
		m.emitClosed(ClosedEvent{Err: cause, At: m.now()})
	})
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		m.logger.Warn("ignoring invalid live state transition", "from", from.String(), "to", to.String())
		return
	}
	m.state = to
	m.logger.Debug("live state", "from", from.String(), "to", to.String())
}

func (m *Manager) emit(event Event) {
	select {
	case m.events <- event:
		return
	default:
	}
	// Analyses carry alerts the model will not repeat; wait briefly for room.
	if _, ok := event.(AnalysisEvent); ok {
		m.emitWait(event)
		return
	}
	// Avoid stalling the read loop if the consumer stops reading.
	m.logger.Warn("live event dropped; consumer not keeping up", "event", event.liveEventType())
}

func (m *Manager) emitClosed(event ClosedEvent) {
	m.emitWait(event)
}

func (m *Manager) emitWait(event Event) {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case m.events <- event:
	case <-timer.C:
		m.logger.Warn("live event dropped; consumer not keeping up", "event", event.liveEventType())
	}
}
