package coach

import (
	"sync"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/script"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// TranscriptSource tells where a transcript line came from.
type TranscriptSource string

const (
	SourceLive     TranscriptSource = "live"
	SourceFallback TranscriptSource = "fallback"
)

// Transcript is one line of agent speech or fallback text.
type Transcript struct {
	Text   string           `json:"text"`
	Source TranscriptSource `json:"source"`
	At     time.Time        `json:"at"`
}

// SuggestionsUpdate carries the full visible list plus what changed.
type SuggestionsUpdate struct {
	Suggestions []types.Suggestion `json:"suggestions"`
	Added       []types.Suggestion `json:"added,omitempty"`
	Removed     []string           `json:"removed,omitempty"`
}

// Progress is the script view after an analysis changed it.
type Progress struct {
	CurrentStep string              `json:"current_step,omitempty"`
	Steps       []script.Status     `json:"steps"`
	Missed      []string            `json:"missed,omitempty"`
	Profile     types.ClientProfile `json:"profile"`
}

// Subscription receives façade updates. Every channel is closed by
// Unsubscribe or when the Session is closed. A subscriber that falls behind
// loses updates rather than stalling the call.
type Subscription struct {
	Transcripts <-chan Transcript
	Suggestions <-chan SuggestionsUpdate
	Alerts      <-chan types.Alert
	Progress    <-chan Progress
	Status      <-chan Status

	transcripts chan Transcript
	suggestions chan SuggestionsUpdate
	alerts      chan types.Alert
	progress    chan Progress
	status      chan Status

	hub *hub
}

// Unsubscribe stops delivery and closes the channels. Safe to call twice.
func (sub *Subscription) Unsubscribe() {
	sub.hub.remove(sub)
}

func newSubscription(h *hub, buffer int) *Subscription {
	sub := &Subscription{
		transcripts: make(chan Transcript, buffer),
		suggestions: make(chan SuggestionsUpdate, buffer),
		alerts:      make(chan types.Alert, buffer),
		progress:    make(chan Progress, buffer),
		status:      make(chan Status, buffer),
		hub:         h,
	}
	sub.Transcripts = sub.transcripts
	sub.Suggestions = sub.suggestions
	sub.Alerts = sub.alerts
	sub.Progress = sub.progress
	sub.Status = sub.status
	return sub
}

func (sub *Subscription) close() {
	close(sub.transcripts)
	close(sub.suggestions)
	close(sub.alerts)
	close(sub.progress)
	close(sub.status)
}

// hub fans updates out to subscribers without blocking the publisher.
type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	warn   func(kind string)
}

func newHub(warn func(kind string)) *hub {
	return &hub{subs: make(map[*Subscription]struct{}), warn: warn}
}

func (h *hub) add(buffer int) *Subscription {
	sub := newSubscription(h, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.close()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

func send[T any](h *hub, kind string, pick func(*Subscription) chan T, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case pick(sub) <- v:
		default:
			h.warn(kind)
		}
	}
}

func (h *hub) transcript(t Transcript) {
	send(h, "transcript", func(s *Subscription) chan Transcript { return s.transcripts }, t)
}

func (h *hub) suggestionsUpdate(u SuggestionsUpdate) {
	send(h, "suggestions", func(s *Subscription) chan SuggestionsUpdate { return s.suggestions }, u)
}

func (h *hub) alert(a types.Alert) {
	send(h, "alert", func(s *Subscription) chan types.Alert { return s.alerts }, a)
}

func (h *hub) progressUpdate(p Progress) {
	send(h, "progress", func(s *Subscription) chan Progress { return s.progress }, p)
}

func (h *hub) statusUpdate(st Status) {
	send(h, "status", func(s *Subscription) chan Status { return s.status }, st)
}
