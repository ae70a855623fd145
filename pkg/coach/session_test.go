package coach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/audio"
	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// eventLog records teardown side effects across fakes in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) index(ev string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.events, ev)
}

type fakeConn struct {
	log *eventLog

	mu   sync.Mutex
	sent []live.ClientMessage

	inbound chan live.ServerMessage
	recvErr chan error

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn(log *eventLog) *fakeConn {
	return &fakeConn{
		log:     log,
		inbound: make(chan live.ServerMessage, 16),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(msg live.ClientMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	if msg.Kind == live.ClientAudioEnd {
		c.log.add("audio_end")
	}
	return nil
}

func (c *fakeConn) Receive() (live.ServerMessage, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case err := <-c.recvErr:
		return live.ServerMessage{}, err
	case <-c.closed:
		return live.ServerMessage{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	if c.closes.Add(1) == 1 {
		c.log.add("conn_close")
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentOf(kind live.ClientKind) []live.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []live.ClientMessage
	for _, m := range c.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeDevice struct {
	log      *eventLog
	startErr error

	mu     sync.Mutex
	onData func([]byte)
	onStop func(error)
	closes atomic.Int32
}

func (d *fakeDevice) Start(onData func([]byte), onStop func(error)) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.onData, d.onStop = onData, onStop
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) SampleRate() int { return 16000 }

func (d *fakeDevice) Close() error {
	if d.closes.Add(1) == 1 {
		d.log.add("mic_release")
	}
	return nil
}

func (d *fakeDevice) emit(pcm []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	fn(pcm)
}

func (d *fakeDevice) fail() {
	d.mu.Lock()
	fn := d.onStop
	d.mu.Unlock()
	fn(errors.New("unplugged"))
}

type fakeRecorder struct {
	log *eventLog

	mu      sync.Mutex
	reports []types.CallReport
}

func (r *fakeRecorder) Record(_ context.Context, report types.CallReport) error {
	r.log.add("record")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeRecorder) all() []types.CallReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reports)
}

type harness struct {
	log      *eventLog
	conns    []*fakeConn
	devices  []*fakeDevice
	recorder *fakeRecorder
	session  *Session

	dialErr   error
	deviceErr error
	// dialHook, when set, runs inside the dialer before the connection is made.
	dialHook func(context.Context) error
	dials     atomic.Int32
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{log: &eventLog{}}
	h.recorder = &fakeRecorder{log: h.log}

	var mu sync.Mutex
	opts := Options{
		Live: live.Config{
			Dialer: live.DialerFunc(func(ctx context.Context) (live.Conn, error) {
				h.dials.Add(1)
				if h.dialHook != nil {
					if err := h.dialHook(ctx); err != nil {
						return nil, err
					}
				}
				if h.dialErr != nil {
					return nil, h.dialErr
				}
				conn := newFakeConn(h.log)
				mu.Lock()
				h.conns = append(h.conns, conn)
				mu.Unlock()
				return conn, nil
			}),
			WriteTimeout: time.Second,
		},
		OpenDevice: func() (audio.Device, error) {
			dev := &fakeDevice{log: h.log, startErr: h.deviceErr}
			mu.Lock()
			h.devices = append(h.devices, dev)
			mu.Unlock()
			return dev, nil
		},
		Framer:   audio.FramerConfig{FrameSamples: 160},
		Recorder: h.recorder,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

const analysisJSON = "```json\n" + `{
	"current_step": "legal_mentions",
	"completed_steps": ["greeting"],
	"client_sentiment": "positive",
	"engagement_level": 70,
	"suggestions": [{"type": "script_reminder", "text": "Mentionnez l'enregistrement", "priority": "high"}],
	"alerts": [{"type": "legal_required", "message": "Mention d'enregistrement manquante"}]
}` + "\n```"

func TestSession_CallLifecycle(t *testing.T) {
	h := newHarness(t)
	s := h.session
	sub := s.Subscribe(64)

	info, err := s.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if info.Fallback || info.SampleRate != 16000 || !strings.HasPrefix(info.SessionID, "call_") {
		t.Fatalf("info = %+v", info)
	}
	if st := s.Status(); st.State != "OPEN" || !st.Listening {
		t.Fatalf("status = %+v", st)
	}

	conn, dev := h.conns[0], h.devices[0]
	dev.emit(make([]byte, 3*160*2))
	waitFor(t, "audio frames", func() bool { return len(conn.sentOf(live.ClientAudio)) == 3 })
	if got := conn.sentOf(live.ClientAudio)[0].MIMEType; got != "audio/pcm;rate=16000" {
		t.Fatalf("mime = %q", got)
	}

	conn.inbound <- live.ServerMessage{Transcript: "Bonjour, je suis Paul de Sky"}
	if tr := recv(t, sub.Transcripts); tr.Source != SourceLive || tr.Text != "Bonjour, je suis Paul de Sky" {
		t.Fatalf("transcript = %+v", tr)
	}

	conn.inbound <- live.ServerMessage{ModelText: analysisJSON, TurnComplete: true}
	sugs := recv(t, sub.Suggestions)
	if len(sugs.Suggestions) != 1 || len(sugs.Added) != 1 || sugs.Suggestions[0].Priority != types.PriorityHigh {
		t.Fatalf("suggestions = %+v", sugs)
	}
	if a := recv(t, sub.Alerts); a.Type != types.AlertLegalRequired {
		t.Fatalf("alert = %+v", a)
	}
	prog := recv(t, sub.Progress)
	if prog.CurrentStep != "legal_mentions" || prog.Profile.EngagementLevel != 70 {
		t.Fatalf("progress = %+v", prog)
	}
	if !prog.Steps[0].Completed {
		t.Fatalf("greeting not completed in %+v", prog.Steps)
	}

	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}

	if dev.closes.Load() != 1 || conn.closes.Load() != 1 {
		t.Fatalf("releases: mic=%d conn=%d", dev.closes.Load(), conn.closes.Load())
	}
	end, mic, closed, rec := h.log.index("audio_end"), h.log.index("mic_release"), h.log.index("conn_close"), h.log.index("record")
	if end < 0 || mic < 0 || end > closed || mic > closed || closed > rec {
		t.Fatalf("teardown order = %v", h.log.events)
	}

	reports := h.recorder.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d", len(reports))
	}
	r := reports[0]
	if r.SessionID != info.SessionID || r.EndReason != types.EndReasonOperator || !slices.Equal(r.CompletedSteps, []string{"greeting"}) {
		t.Fatalf("report = %+v", r)
	}
	if r.SuggestionCount != 1 || len(r.Alerts) != 1 || r.Sentiment != types.SentimentPositive {
		t.Fatalf("report = %+v", r)
	}

	snap := s.Snapshot()
	if snap.Call != nil || snap.Status.State != "DISCONNECTED" {
		t.Fatalf("snapshot after stop = %+v", snap.Status)
	}
	if snap.Context.ScriptProgress.CurrentStepID != "" || len(snap.Context.Alerts) != 0 {
		t.Fatalf("context not reset: %+v", snap.Context)
	}
	if err := s.StopCall(); err != nil {
		t.Fatalf("second StopCall: %v", err)
	}
}

func TestSession_DeviceFailureFallsBackToText(t *testing.T) {
	h := newHarness(t)
	h.deviceErr = errors.New("permission denied")
	s := h.session

	info, err := s.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if !info.Fallback {
		t.Fatalf("expected fallback mode")
	}
	st := s.Status()
	if st.State != "OPEN" || st.Listening || !st.Fallback || !strings.Contains(st.LastError, "device_error") {
		t.Fatalf("status = %+v", st)
	}
	if h.devices[0].closes.Load() != 1 {
		t.Fatalf("failed device not released")
	}

	if s.SendFallbackText("hm") {
		t.Fatalf("noise accepted")
	}
	if !s.SendFallbackText("  c'est trop cher pour moi ") {
		t.Fatalf("text rejected")
	}
	conn := h.conns[0]
	waitFor(t, "text turn", func() bool { return len(conn.sentOf(live.ClientText)) == 1 })
	if n := len(conn.sentOf(live.ClientInstruction)); n != 1 {
		t.Fatalf("instructions sent = %d, want 1", n)
	}
	turn := conn.sentOf(live.ClientText)[0].Text
	if !strings.HasPrefix(turn, "[context] current_step=unknown") || !strings.HasSuffix(turn, "\nc'est trop cher pour moi") {
		t.Fatalf("turn = %q", turn)
	}

	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if len(conn.sentOf(live.ClientAudioEnd)) != 0 {
		t.Fatalf("audio stream end sent for a text-only call")
	}
	if r := h.recorder.all(); len(r) != 1 || !r[0].Fallback {
		t.Fatalf("reports = %+v", r)
	}
}

func TestSession_NoDeviceConfigured(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.OpenDevice = nil })
	info, err := h.session.StartCall(context.Background())
	if err != nil || !info.Fallback {
		t.Fatalf("StartCall = %+v, %v", info, err)
	}
}

func TestSession_RemoteDropTearsDownOnce(t *testing.T) {
	h := newHarness(t)
	s := h.session
	sub := s.Subscribe(64)

	if _, err := s.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	conn, dev := h.conns[0], h.devices[0]
	conn.recvErr <- errors.New("connection reset by peer")

	waitFor(t, "call teardown", func() bool { return len(h.recorder.all()) == 1 })
	waitFor(t, "status", func() bool { return s.Status().State == "DISCONNECTED" })

	if dev.closes.Load() != 1 || conn.closes.Load() != 1 {
		t.Fatalf("releases: mic=%d conn=%d", dev.closes.Load(), conn.closes.Load())
	}
	if r := h.recorder.all()[0]; r.EndReason != types.EndReasonRemote {
		t.Fatalf("end reason = %q", r.EndReason)
	}
	if st := s.Status(); !strings.Contains(st.LastError, "connection_error") || st.Listening {
		t.Fatalf("status = %+v", st)
	}

	// Subscribers see the disconnect.
	for st := recv(t, sub.Status); st.State != "DISCONNECTED"; st = recv(t, sub.Status) {
	}

	// No automatic reconnect.
	time.Sleep(50 * time.Millisecond)
	if n := h.dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall after drop: %v", err)
	}
	if len(h.recorder.all()) != 1 {
		t.Fatalf("report recorded twice")
	}
}

func TestSession_MidCallDeviceFailureKeepsCall(t *testing.T) {
	h := newHarness(t)
	s := h.session

	if _, err := s.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	conn, dev := h.conns[0], h.devices[0]
	dev.fail()

	waitFor(t, "fallback", func() bool { return s.Status().Fallback })
	waitFor(t, "audio stream end", func() bool { return len(conn.sentOf(live.ClientAudioEnd)) == 1 })
	if st := s.Status(); st.State != "OPEN" || st.Listening {
		t.Fatalf("status = %+v", st)
	}
	if dev.closes.Load() != 1 {
		t.Fatalf("mic releases = %d", dev.closes.Load())
	}
	if !s.SendFallbackText("oui ça m'intéresse") {
		t.Fatalf("text rejected in fallback mode")
	}

	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if dev.closes.Load() != 1 || conn.closes.Load() != 1 {
		t.Fatalf("releases: mic=%d conn=%d", dev.closes.Load(), conn.closes.Load())
	}
}

func TestSession_StartReplacesPreviousCall(t *testing.T) {
	h := newHarness(t)
	s := h.session

	first, err := s.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	h.conns[0].inbound <- live.ServerMessage{ModelText: `{"completed_steps":["greeting"]}`}
	waitFor(t, "analysis", func() bool {
		return len(s.Snapshot().Context.ScriptProgress.CompletedStepIDs) == 1
	})

	second, err := s.StartCall(context.Background())
	if err != nil {
		t.Fatalf("second StartCall: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("session id reused")
	}
	if h.conns[0].closes.Load() != 1 || h.devices[0].closes.Load() != 1 {
		t.Fatalf("previous call not released")
	}
	reports := h.recorder.all()
	if len(reports) != 1 || reports[0].EndReason != types.EndReasonReplaced {
		t.Fatalf("reports = %+v", reports)
	}
	if got := s.Snapshot().Context.ScriptProgress.CompletedStepIDs; len(got) != 0 {
		t.Fatalf("new call inherited progress %v", got)
	}
	if s.Status().SessionID != second.SessionID {
		t.Fatalf("status does not follow the new call")
	}
}

func TestSession_DialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialErr = core.NewConnectionError("dial", errors.New("refused"))
	s := h.session

	_, err := s.StartCall(context.Background())
	if !core.IsType(err, core.ErrConnection) {
		t.Fatalf("err = %v, want connection_error", err)
	}
	st := s.Status()
	if st.State != "DISCONNECTED" || st.LastError == "" || st.SessionID != "" {
		t.Fatalf("status = %+v", st)
	}
	if len(h.devices) != 0 {
		t.Fatalf("microphone opened without a live session")
	}
	if len(h.recorder.all()) != 0 {
		t.Fatalf("report recorded for a call that never opened")
	}
	if s.SendFallbackText("bonjour") {
		t.Fatalf("text accepted without a call")
	}
}

func TestSession_StopWhileConnecting(t *testing.T) {
	tests := []struct {
		name string
		stop func(*Session) error
	}{
		{name: "StopCall", stop: (*Session).StopCall},
		{name: "Close", stop: (*Session).Close},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			dialing := make(chan struct{})
			h.dialHook = func(ctx context.Context) error {
				close(dialing)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					return nil
				}
			}
			s := h.session

			started := make(chan error, 1)
			go func() {
				_, err := s.StartCall(context.Background())
				started <- err
			}()
			<-dialing

			begin := time.Now()
			if err := tt.stop(s); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if d := time.Since(begin); d > time.Second {
				t.Fatalf("%s waited %v for the dial", tt.name, d)
			}
			if err := recv(t, started); !core.IsType(err, core.ErrConnection) {
				t.Fatalf("StartCall err = %v, want connection_error", err)
			}

			st := s.Status()
			if st.State != "DISCONNECTED" || st.SessionID != "" || st.LastError != "" {
				t.Fatalf("status = %+v", st)
			}
			if len(h.devices) != 0 {
				t.Fatalf("microphone opened for a stopped call")
			}
			if len(h.recorder.all()) != 0 {
				t.Fatalf("report recorded for a call that never opened")
			}
		})
	}
}

func TestSession_SubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	s := h.session

	a := s.Subscribe(1)
	b := s.Subscribe(1)
	a.Unsubscribe()
	a.Unsubscribe()
	if _, ok := <-a.Status; ok {
		t.Fatalf("unsubscribed channel still open")
	}

	// A full subscriber does not block the call.
	if _, err := s.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.conns[0].inbound <- live.ServerMessage{Transcript: "allô"}
	}
	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range b.Transcripts {
	}
	if _, err := s.StartCall(context.Background()); !core.IsType(err, core.ErrInvalidState) {
		t.Fatalf("StartCall after Close err = %v", err)
	}
	if _, ok := <-s.Subscribe(1).Status; ok {
		t.Fatalf("subscription after Close is open")
	}
}

func TestNew_RequiresDialer(t *testing.T) {
	if _, err := New(Options{}); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}
