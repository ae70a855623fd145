// Package console is a terminal front end for a coaching session. It holds
// the session in process and renders the status, the script checklist,
// suggestions, alerts and the latest transcript lines.
package console

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core/script"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

const (
	transcriptTail = 6
	alertTail      = 5
)

// Controller is the part of coach.Session the console drives.
type Controller interface {
	StartCall(ctx context.Context) (coach.CallInfo, error)
	StopCall() error
	SendFallbackText(text string) bool
	Snapshot() coach.Snapshot
	Subscribe(buffer int) *coach.Subscription
}

type (
	transcriptMsg  coach.Transcript
	suggestionsMsg coach.SuggestionsUpdate
	alertMsg       types.Alert
	progressMsg    coach.Progress
	statusMsg      coach.Status
	closedMsg      struct{}

	callStartedMsg struct {
		Info coach.CallInfo
		Err  error
	}
	callStoppedMsg struct{ Err error }
)

type Model struct {
	calls Controller
	sub   *coach.Subscription
	input textinput.Model

	status      coach.Status
	steps       []script.Status
	current     string
	missed      []string
	profile     types.ClientProfile
	suggestions []types.Suggestion
	alerts      []types.Alert
	transcript  []coach.Transcript
	notice      string
	closed      bool

	width  int
	height int
}

func New(calls Controller) Model {
	ti := textinput.New()
	ti.Placeholder = "Type what the agent says..."
	ti.CharLimit = 500
	ti.Width = 60
	ti.Focus()

	snap := calls.Snapshot()
	m := Model{
		calls:       calls,
		sub:         calls.Subscribe(64),
		input:       ti,
		status:      snap.Status,
		steps:       snap.Script.Steps,
		current:     snap.Script.CurrentStep,
		missed:      snap.Script.Missed,
		profile:     snap.Context.ClientProfile,
		suggestions: snap.Context.Suggestions,
	}
	if n := len(snap.Context.Alerts); n > alertTail {
		m.alerts = slices.Clone(snap.Context.Alerts[n-alertTail:])
	} else {
		m.alerts = slices.Clone(snap.Context.Alerts)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.sub))
}

// waitForUpdate blocks until the subscription delivers something.
func waitForUpdate(sub *coach.Subscription) tea.Cmd {
	return func() tea.Msg {
		select {
		case t, ok := <-sub.Transcripts:
			if !ok {
				return closedMsg{}
			}
			return transcriptMsg(t)
		case u, ok := <-sub.Suggestions:
			if !ok {
				return closedMsg{}
			}
			return suggestionsMsg(u)
		case a, ok := <-sub.Alerts:
			if !ok {
				return closedMsg{}
			}
			return alertMsg(a)
		case p, ok := <-sub.Progress:
			if !ok {
				return closedMsg{}
			}
			return progressMsg(p)
		case st, ok := <-sub.Status:
			if !ok {
				return closedMsg{}
			}
			return statusMsg(st)
		}
	}
}

func startCallCmd(calls Controller) tea.Cmd {
	return func() tea.Msg {
		info, err := calls.StartCall(context.Background())
		return callStartedMsg{Info: info, Err: err}
	}
}

func stopCallCmd(calls Controller) tea.Cmd {
	return func() tea.Msg {
		return callStoppedMsg{Err: calls.StopCall()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = min(max(msg.Width-6, 10), 100)
		return m, nil

	case transcriptMsg:
		m.transcript = append(m.transcript, coach.Transcript(msg))
		if len(m.transcript) > transcriptTail {
			m.transcript = m.transcript[len(m.transcript)-transcriptTail:]
		}
		return m, waitForUpdate(m.sub)

	case suggestionsMsg:
		m.suggestions = msg.Suggestions
		return m, waitForUpdate(m.sub)

	case alertMsg:
		m.alerts = append(m.alerts, types.Alert(msg))
		if len(m.alerts) > alertTail {
			m.alerts = m.alerts[len(m.alerts)-alertTail:]
		}
		return m, waitForUpdate(m.sub)

	case progressMsg:
		m.steps = msg.Steps
		m.current = msg.CurrentStep
		m.missed = msg.Missed
		m.profile = msg.Profile
		return m, waitForUpdate(m.sub)

	case statusMsg:
		m.status = coach.Status(msg)
		return m, waitForUpdate(m.sub)

	case closedMsg:
		m.closed = true
		m.notice = "Session closed"
		return m, nil

	case callStartedMsg:
		if msg.Err != nil {
			m.notice = "Start failed: " + msg.Err.Error()
			return m, nil
		}
		// A new call starts from an empty context.
		snap := m.calls.Snapshot()
		m.steps = snap.Script.Steps
		m.current, m.missed = "", nil
		m.profile = types.ClientProfile{}
		m.suggestions, m.alerts, m.transcript = nil, nil, nil
		if msg.Info.Fallback {
			m.notice = "Call started in text mode"
		} else {
			m.notice = "Call started"
		}
		return m, nil

	case callStoppedMsg:
		if msg.Err != nil {
			m.notice = "Stop failed: " + msg.Err.Error()
		} else {
			m.notice = "Call stopped"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, Keys.Start):
		if m.closed {
			return m, nil
		}
		m.notice = "Starting call..."
		return m, startCallCmd(m.calls)

	case key.Matches(msg, Keys.Stop):
		m.notice = "Stopping call..."
		return m, stopCallCmd(m.calls)

	case key.Matches(msg, Keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if m.status.SessionID == "" {
			m.notice = "No active call"
			return m, nil
		}
		if m.calls.SendFallbackText(text) {
			m.notice = ""
		} else {
			m.notice = "Text ignored"
		}
		m.input.Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.statusBar())
	b.WriteString("\n")

	left := m.scriptView()
	right := lipgloss.JoinVertical(lipgloss.Left, m.suggestionsView(), m.alertsView())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")

	b.WriteString(m.transcriptView())
	b.WriteString("\n")
	b.WriteString("  " + m.input.View())
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString("  " + DimStyle.Render(m.notice) + "\n")
	}
	b.WriteString(m.helpView())
	return b.String()
}

func (m Model) statusBar() string {
	parts := []string{m.status.State}
	if m.status.SessionID != "" {
		parts = append(parts, m.status.SessionID)
	}
	if m.status.Listening {
		if m.status.VoiceActive {
			parts = append(parts, "● voice")
		} else {
			parts = append(parts, "○ listening")
		}
	}
	if m.status.Fallback {
		parts = append(parts, "text mode")
	}
	if m.profile.Sentiment != "" {
		parts = append(parts, fmt.Sprintf("client %s %d%%", m.profile.Sentiment, m.profile.EngagementLevel))
	}
	style := StatusBarStyle
	if m.status.LastError != "" {
		parts = append(parts, m.status.LastError)
		style = StatusErrorStyle
	}
	bar := style.Render(strings.Join(parts, " · "))
	if m.width > 0 {
		bar = style.Width(m.width).Render(strings.Join(parts, " · "))
	}
	return bar
}

func (m Model) scriptView() string {
	var b strings.Builder
	b.WriteString(PaneTitleStyle.Render("Script"))
	for _, st := range m.steps {
		b.WriteString("\n")
		switch {
		case st.Completed:
			b.WriteString(StepDoneStyle.Render("✓ " + st.Title))
		case st.ID == m.current:
			b.WriteString(StepCurrentStyle.Render("▸ " + st.Title))
		case slices.Contains(m.missed, st.ID):
			b.WriteString(StepMissedStyle.Render("✗ " + st.Title))
		default:
			b.WriteString(StepPendingStyle.Render("· " + st.Title))
		}
	}
	return PaneStyle.Width(m.paneWidth()).Render(b.String())
}

func (m Model) suggestionsView() string {
	var b strings.Builder
	b.WriteString(PaneTitleStyle.Render("Suggestions"))
	if len(m.suggestions) == 0 {
		b.WriteString("\n" + DimStyle.Render("none"))
	}
	for _, s := range m.suggestions {
		b.WriteString("\n")
		if s.Priority == types.PriorityHigh {
			b.WriteString(SuggestionHighStyle.Render("! " + s.Text))
		} else {
			b.WriteString(SuggestionStyle.Render("- " + s.Text))
		}
	}
	return PaneStyle.Width(m.paneWidth()).Render(b.String())
}

func (m Model) alertsView() string {
	var b strings.Builder
	b.WriteString(PaneTitleStyle.Render("Alerts"))
	if len(m.alerts) == 0 {
		b.WriteString("\n" + DimStyle.Render("none"))
	}
	for _, a := range m.alerts {
		b.WriteString("\n")
		line := a.Message
		if a.SuggestedAction != "" {
			line += " → " + a.SuggestedAction
		}
		switch a.Severity {
		case types.SeverityError:
			b.WriteString(AlertErrorStyle.Render(line))
		case types.SeverityInfo:
			b.WriteString(AlertInfoStyle.Render(line))
		default:
			b.WriteString(AlertWarningStyle.Render(line))
		}
	}
	return PaneStyle.Width(m.paneWidth()).Render(b.String())
}

func (m Model) transcriptView() string {
	var b strings.Builder
	b.WriteString("  " + PaneTitleStyle.Render("Transcript"))
	for _, t := range m.transcript {
		b.WriteString("\n  ")
		b.WriteString(DimStyle.Render(t.At.Format("15:04:05")) + " " + t.Text)
	}
	return b.String()
}

func (m Model) helpView() string {
	var parts []string
	for _, k := range Keys.help() {
		h := k.Help()
		parts = append(parts, HelpKeyStyle.Render(h.Key)+" "+HelpDescStyle.Render(h.Desc))
	}
	return "  " + strings.Join(parts, "  ")
}

func (m Model) paneWidth() int {
	if m.width <= 0 {
		return 40
	}
	return max(m.width/2-2, 20)
}
