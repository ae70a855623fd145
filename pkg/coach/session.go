// Package coach is the façade the UI talks to. A Session runs at most one
// call at a time: it wires the microphone framer into a live Manager, folds
// the model's analyses through the tracker, and fans the results out to
// subscribers.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/audio"
	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/core/synth"
	"github.com/vango-go/vai-coach/pkg/core/tracker"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// ErrNoCall is returned when an operation needs an active call.
var ErrNoCall = core.NewInvalidStateError("no active call")

// CallInfo identifies a started call.
type CallInfo struct {
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	Fallback   bool      `json:"fallback"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// Status is the user-visible connection summary.
type Status struct {
	SessionID   string `json:"session_id,omitempty"`
	State       string `json:"state"`
	Listening   bool   `json:"listening"`
	VoiceActive bool   `json:"voice_active"`
	Fallback    bool   `json:"fallback"`
	LastError   string `json:"last_error,omitempty"`
}

// Snapshot is a read-only copy of the façade state.
type Snapshot struct {
	Status  Status                    `json:"status"`
	Call    *CallInfo                 `json:"call,omitempty"`
	Context types.ConversationContext `json:"context"`
	Script  Progress                  `json:"script"`
}

// Session is safe for concurrent use.
type Session struct {
	opts    Options
	logger  *slog.Logger
	tracker *tracker.Tracker
	hub     *hub

	// lifecycle serializes StartCall, StopCall and Close.
	lifecycle sync.Mutex

	mu      sync.Mutex
	call    *call
	lastErr string
	closed  bool
}

type call struct {
	info CallInfo
	mgr  *live.Manager

	ctx    context.Context
	cancel context.CancelFunc

	framer     *audio.Framer
	framerErr  <-chan error
	sampleRate atomic.Int64
	opened     atomic.Bool
	listening  atomic.Bool
	fallback   atomic.Bool
	voice      atomic.Bool

	suggestionCount atomic.Int64

	pumpDone chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(opts Options) (*Session, error) {
	if opts.Live.Dialer == nil {
		return nil, core.NewInvalidRequestError("coach session requires a live dialer")
	}
	opts = opts.withDefaults()
	logger := opts.Logger
	engine := synth.New(synth.Config{
		TransitionCooldown: opts.TransitionCooldown,
		Now:                opts.Now,
		NewID:              opts.NewID,
		Logger:             logger,
	})
	s := &Session{
		opts:    opts,
		logger:  logger,
		tracker: tracker.New(opts.Script, engine, logger),
	}
	s.hub = newHub(func(kind string) {
		logger.Warn("subscriber not keeping up; update dropped", "kind", kind)
	})
	return s, nil
}

// Subscribe registers a consumer. buffer <= 0 uses Options.SubscriberSize.
func (s *Session) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = s.opts.SubscriberSize
	}
	return s.hub.add(buffer)
}

// StartCall ends any call in progress, resets the conversation and opens a
// new live session. A microphone failure is not an error: the call starts in
// fallback mode and CallInfo.Fallback is set.
func (s *Session) StartCall(ctx context.Context) (CallInfo, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return CallInfo{}, core.NewInvalidStateError("coach session is closed")
	}
	prev := s.call
	s.mu.Unlock()
	if prev != nil {
		s.teardown(prev, types.EndReasonReplaced, nil)
	}

	s.tracker.Reset()

	cfg := s.opts.Live
	cfg.Logger = s.logger
	cfg.Now = s.opts.Now
	mgr, err := live.NewManager(cfg)
	if err != nil {
		return CallInfo{}, err
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &call{
		info: CallInfo{
			SessionID: s.opts.NewID("call"),
			StartedAt: s.opts.Now(),
		},
		mgr:      mgr,
		ctx:      cctx,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	logger := s.logger.With("session_id", c.info.SessionID)

	s.mu.Lock()
	s.call = c
	s.lastErr = ""
	s.mu.Unlock()
	s.publishStatus()

	openCtx, stopOpen := context.WithCancel(ctx)
	unlink := context.AfterFunc(cctx, stopOpen)
	err = mgr.Open(openCtx)
	unlink()
	stopOpen()
	if err == nil && cctx.Err() != nil {
		// Stopped after the connection opened but before the call went live.
		_ = mgr.Close()
		err = core.NewConnectionError("call stopped while connecting", context.Canceled)
	}
	if err != nil {
		aborted := cctx.Err() != nil
		cancel()
		s.mu.Lock()
		if s.call == c {
			s.call = nil
		}
		if !aborted {
			s.lastErr = err.Error()
		}
		s.mu.Unlock()
		if aborted {
			logger.Info("call stopped while connecting")
		} else {
			logger.Error("call start failed", "err", err)
		}
		s.publishStatus()
		return CallInfo{}, err
	}
	c.opened.Store(true)

	if err := s.startCapture(c); err != nil {
		logger.Warn("microphone unavailable; using fallback input", "err", err)
		s.enterFallback(c, err)
	}

	go s.pump(c)

	logger.Info("call started", "fallback", c.fallback.Load(), "sample_rate", c.sampleRate.Load())
	s.publishStatus()
	return s.callInfo(c), nil
}

func (s *Session) startCapture(c *call) error {
	if s.opts.OpenDevice == nil {
		return core.NewDeviceError("no capture device configured", nil)
	}
	dev, err := s.opts.OpenDevice()
	if err != nil {
		if core.IsType(err, core.ErrDevice) {
			return err
		}
		return core.NewDeviceError("open capture device", err)
	}
	fr := audio.NewFramer(s.opts.Framer)
	if err := fr.Start(dev, func(f audio.Frame) { s.onFrame(c, f) }); err != nil {
		return err
	}
	c.framer = fr
	c.framerErr = fr.Err()
	c.sampleRate.Store(int64(fr.Format().SampleRate))
	c.listening.Store(true)
	return nil
}

// onFrame runs on the device thread and must not block.
func (s *Session) onFrame(c *call, f audio.Frame) {
	if c.voice.Swap(f.VoiceActive) != f.VoiceActive {
		s.publishStatus()
	}
	err := c.mgr.SendAudio(f.PCM, f.MIMEType())
	if err != nil && !errors.Is(err, live.ErrAudioDropped) && !errors.Is(err, live.ErrNotOpen) {
		s.logger.Debug("audio frame not sent", "err", err)
	}
}

// enterFallback switches the call to text input and starts the fallback
// transcription source when one is configured.
func (s *Session) enterFallback(c *call, cause error) {
	if c.fallback.Swap(true) {
		return
	}
	c.listening.Store(false)
	c.voice.Store(false)
	s.mu.Lock()
	if cause != nil {
		s.lastErr = cause.Error()
	}
	s.mu.Unlock()

	if s.opts.Fallback == nil {
		return
	}
	utterances, err := s.opts.Fallback.Utterances(c.ctx)
	if err != nil {
		s.logger.Warn("fallback transcription unavailable", "err", err)
		return
	}
	go func() {
		for text := range utterances {
			s.sendText(c, text)
		}
	}()
}

// pump is the single path that folds inbound events into the tracker.
func (s *Session) pump(c *call) {
	defer close(c.pumpDone)
	events := c.mgr.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case err := <-c.framerErr:
			c.framerErr = nil
			s.logger.Warn("microphone failed mid-call; switching to fallback input", "err", err)
			_ = c.mgr.EndAudio()
			s.enterFallback(c, err)
			s.publishStatus()
		case ev := <-events:
			if closed, ok := ev.(live.ClosedEvent); ok {
				if closed.Err != nil {
					s.stop(c, types.EndReasonRemote, closed.Err, true)
				}
				return
			}
			s.handleEvent(c, ev)
		}
	}
}

func (s *Session) handleEvent(c *call, ev live.Event) {
	switch e := ev.(type) {
	case live.TranscriptEvent:
		s.hub.transcript(Transcript{Text: e.Text, Source: SourceLive, At: e.At})
	case live.AnalysisEvent:
		u := s.tracker.Apply(e.Analysis, e.At)
		if u.Synth.Changed() {
			c.suggestionCount.Add(int64(len(u.Synth.Added)))
			removed := make([]string, 0, len(u.Synth.Removed))
			for _, r := range u.Synth.Removed {
				removed = append(removed, r.ID)
			}
			s.hub.suggestionsUpdate(SuggestionsUpdate{
				Suggestions: u.Synth.Suggestions,
				Added:       u.Synth.Added,
				Removed:     removed,
			})
		}
		for _, a := range u.Synth.Alerts {
			s.hub.alert(a)
		}
		if u.ProgressChanged() || u.ProfileChanged {
			s.hub.progressUpdate(s.progress(u.Context))
		}
	case live.TurnCompleteEvent:
		s.logger.Debug("model turn complete")
	}
}

func (s *Session) progress(ctx types.ConversationContext) Progress {
	return Progress{
		CurrentStep: ctx.ScriptProgress.CurrentStepID,
		Steps:       s.tracker.Steps(),
		Missed:      ctx.ScriptProgress.MissedStepIDs,
		Profile:     ctx.ClientProfile,
	}
}

// SendFallbackText forwards operator or fallback text as a turn. Text that
// fails the noise filter, or arrives without an open call, is dropped and
// false is returned.
func (s *Session) SendFallbackText(text string) bool {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		s.logger.Warn("fallback text dropped; no active call")
		return false
	}
	return s.sendText(c, text)
}

func (s *Session) sendText(c *call, text string) bool {
	text, ok := s.opts.Filter.Accept(text)
	if !ok {
		s.logger.Debug("fallback text filtered")
		return false
	}
	if err := c.mgr.SendText(text, s.tracker.ContextSnapshot()); err != nil {
		s.logger.Warn("fallback text not sent", "err", err)
		return false
	}
	s.hub.transcript(Transcript{Text: text, Source: SourceFallback, At: s.opts.Now()})
	return true
}

// StopCall ends the current call. It is a no-op without one. A call that is
// still connecting is aborted and its StartCall returns an error.
func (s *Session) StopCall() error {
	s.abortConnecting()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	s.teardown(c, types.EndReasonOperator, nil)
	return nil
}

// Close ends any call and closes every subscription.
func (s *Session) Close() error {
	s.abortConnecting()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.call
	s.mu.Unlock()
	if c != nil {
		s.teardown(c, types.EndReasonShutdown, nil)
	}
	s.hub.closeAll()
	return nil
}

// abortConnecting cancels a call whose live session is still being opened.
// It runs without the lifecycle lock, which StartCall holds for the dial.
func (s *Session) abortConnecting() {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil || c.opened.Load() {
		return
	}
	c.cancel()
	_ = c.mgr.Close()
}

func (s *Session) teardown(c *call, reason types.EndReason, cause error) {
	s.stop(c, reason, cause, false)
	<-c.stopped
}

// stop tears a call down exactly once, in order: end the audio stream,
// release the microphone, close the connection, persist the report, reset
// the conversation. fromPump is set when the event pump itself triggers the
// stop and so must not wait for itself.
func (s *Session) stop(c *call, reason types.EndReason, cause error, fromPump bool) {
	c.stopOnce.Do(func() {
		defer close(c.stopped)
		logger := s.logger.With("session_id", c.info.SessionID)

		if c.framer != nil && !c.fallback.Load() {
			if err := c.mgr.EndAudio(); err != nil && !errors.Is(err, live.ErrNotOpen) {
				logger.Debug("audio stream end not sent", "err", err)
			}
		}
		if c.framer != nil {
			c.listening.Store(false)
			if err := c.framer.Stop(); err != nil {
				logger.Warn("release microphone", "err", err)
			}
		}
		if err := c.mgr.Close(); err != nil {
			logger.Warn("close live session", "err", err)
		}
		c.cancel()
		if !fromPump {
			<-c.pumpDone
		}

		s.record(c, reason)
		s.tracker.Reset()

		s.mu.Lock()
		if s.call == c {
			s.call = nil
		}
		if cause != nil {
			s.lastErr = cause.Error()
		}
		s.mu.Unlock()

		if cause != nil {
			logger.Error("call ended", "reason", reason, "err", cause)
		} else {
			logger.Info("call ended", "reason", reason)
		}
		s.publishStatus()
	})
}

func (s *Session) record(c *call, reason types.EndReason) {
	if s.opts.Recorder == nil {
		return
	}
	report := buildReport(c, s.tracker.Snapshot(), reason, s.opts.Now())
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RecordTimeout)
	defer cancel()
	if err := s.opts.Recorder.Record(ctx, report); err != nil {
		s.logger.Warn("call report not saved", "session_id", c.info.SessionID, "err", err)
	}
}

func buildReport(c *call, ctx types.ConversationContext, reason types.EndReason, now time.Time) types.CallReport {
	return types.CallReport{
		SessionID:       c.info.SessionID,
		StartedAt:       c.info.StartedAt,
		EndedAt:         now,
		EndReason:       reason,
		Fallback:        c.fallback.Load(),
		CurrentStep:     ctx.ScriptProgress.CurrentStepID,
		CompletedSteps:  ctx.ScriptProgress.CompletedStepIDs,
		MissedSteps:     ctx.ScriptProgress.MissedStepIDs,
		Timeline:        ctx.ScriptProgress.Timeline,
		Sentiment:       ctx.ClientProfile.Sentiment,
		Engagement:      ctx.ClientProfile.EngagementLevel,
		Alerts:          ctx.Alerts,
		SuggestionCount: int(c.suggestionCount.Load()),
	}
}

func (s *Session) callInfo(c *call) CallInfo {
	info := c.info
	info.Fallback = c.fallback.Load()
	info.SampleRate = int(c.sampleRate.Load())
	return info
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	c, lastErr := s.call, s.lastErr
	s.mu.Unlock()

	st := Status{State: live.StateDisconnected.String(), LastError: lastErr}
	if c == nil {
		return st
	}
	state := c.mgr.State()
	if state == live.StateDisconnected && !c.opened.Load() {
		state = live.StateConnecting
	}
	st.SessionID = c.info.SessionID
	st.State = state.String()
	st.Fallback = c.fallback.Load()
	st.Listening = state == live.StateOpen && c.listening.Load()
	st.VoiceActive = st.Listening && c.voice.Load()
	return st
}

func (s *Session) publishStatus() {
	s.hub.statusUpdate(s.Status())
}

// Snapshot returns copies of the status, call and conversation.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{Status: s.Status()}
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c != nil {
		info := s.callInfo(c)
		snap.Call = &info
	}
	snap.Context = s.tracker.Snapshot()
	snap.Script = s.progress(snap.Context)
	return snap
}

func (st Status) String() string {
	return fmt.Sprintf("%s listening=%t fallback=%t", st.State, st.Listening, st.Fallback)
}
