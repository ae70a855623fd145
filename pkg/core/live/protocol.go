package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/types"
)

// ClientKind identifies an outbound message.
type ClientKind int

const (
	// ClientAudio is one PCM frame for the realtime input stream.
	ClientAudio ClientKind = iota + 1
	// ClientAudioEnd tells the service the audio stream has ended.
	ClientAudioEnd
	// ClientText is a complete user turn (turnComplete = true).
	ClientText
	// ClientInstruction seeds the conversation with the script contract
	// without completing a turn, so the model does not answer it.
	ClientInstruction
)

// ClientMessage is a transport-neutral outbound message.
type ClientMessage struct {
	Kind     ClientKind
	Audio    []byte
	MIMEType string
	Text     string
}

// ServerMessage is a transport-neutral inbound message. A single message may
// carry a transcription, model text and the turn-complete marker at once.
type ServerMessage struct {
	Transcript   string
	ModelText    string
	TurnComplete bool
	// GoAway is set when the service announced it will drop the connection.
	GoAway bool
}

// Dialer opens a connection and completes the transport-level setup
// exchange before returning.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an established live connection. Send is only called from one
// goroutine at a time; Receive is only called from the read loop.
type Conn interface {
	Send(msg ClientMessage) error
	Receive() (ServerMessage, error)
	Close() error
}

// Pinger is implemented by connections that need keepalives.
type Pinger interface {
	Ping(deadline time.Time) error
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// ContextSnapshot is the running context echoed at the top of every text turn
// so each turn is self-describing.
type ContextSnapshot struct {
	CurrentStep string
	Sentiment   types.Sentiment
	Engagement  int
}

// Prefix renders the snapshot as a single context line.
func (c ContextSnapshot) Prefix() string {
	step := c.CurrentStep
	if step == "" {
		step = "unknown"
	}
	sentiment := string(c.Sentiment)
	if sentiment == "" {
		sentiment = "unknown"
	}
	return fmt.Sprintf("[context] current_step=%s sentiment=%s engagement=%d", step, sentiment, c.Engagement)
}

// FormatTurn prefixes text with the snapshot line.
func FormatTurn(text string, snap ContextSnapshot) string {
	return snap.Prefix() + "\n" + strings.TrimSpace(text)
}

// Event is emitted by Manager.Events().
type Event interface {
	liveEventType() string
}

// TranscriptEvent carries transcribed agent speech.
type TranscriptEvent struct {
	Text string
	At   time.Time
}

func (e TranscriptEvent) liveEventType() string { return "transcript" }

// AnalysisEvent carries one parsed analysis document.
type AnalysisEvent struct {
	Analysis types.Analysis
	Raw      string
	At       time.Time
}

func (e AnalysisEvent) liveEventType() string { return "analysis" }

// TurnCompleteEvent marks the end of a model turn. Informational only.
type TurnCompleteEvent struct {
	At time.Time
}

func (e TurnCompleteEvent) liveEventType() string { return "turn_complete" }

// ClosedEvent is emitted once per session when the connection is gone.
// Err is nil when Close was requested by the caller.
type ClosedEvent struct {
	Err error
	At  time.Time
}

func (e ClosedEvent) liveEventType() string { return "closed" }
