// Package tracker folds parsed model analyses into the per-call
// ConversationContext and keeps script progress.
package tracker

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/core/script"
	"github.com/vango-go/vai-coach/pkg/core/synth"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// Update describes what one analysis changed.
type Update struct {
	Context        types.ConversationContext
	NewlyCompleted []string
	StepChanged    bool
	ProfileChanged bool
	Synth          synth.Result
}

// ProgressChanged reports whether the script view needs redrawing.
func (u Update) ProgressChanged() bool {
	return u.StepChanged || len(u.NewlyCompleted) > 0
}

// Tracker is safe for concurrent use.
type Tracker struct {
	def    *script.Definition
	engine *synth.Engine
	logger *slog.Logger

	mu       sync.Mutex
	progress *script.Progress
	ctx      types.ConversationContext
}

func New(def *script.Definition, engine *synth.Engine, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = synth.New(synth.Config{Logger: logger})
	}
	return &Tracker{
		def:      def,
		engine:   engine,
		logger:   logger,
		progress: script.NewProgress(def),
	}
}

// Apply folds a into the context. Completion is monotonic and idempotent:
// step ids already completed, and ids not in the script, are ignored.
// Sentiment and engagement are last-write-wins when present.
func (t *Tracker) Apply(a types.Analysis, now time.Time) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	var u Update
	sp := &t.ctx.ScriptProgress

	if step := strings.TrimSpace(a.CurrentStep); step != "" {
		if t.def.Has(step) {
			u.StepChanged = sp.CurrentStepID != step
			sp.CurrentStepID = step
		} else {
			t.logger.Debug("ignoring unknown current step", "step", step)
		}
	}

	for _, id := range a.CompletedSteps {
		id = strings.TrimSpace(id)
		if !t.def.Has(id) {
			if id != "" {
				t.logger.Debug("ignoring unknown completed step", "step", id)
			}
			continue
		}
		if t.progress.MarkCompleted(id, now) {
			sp.CompletedStepIDs = append(sp.CompletedStepIDs, id)
			sp.Timeline = append(sp.Timeline, types.TimelineEntry{StepID: id, At: now})
			u.NewlyCompleted = append(u.NewlyCompleted, id)
		}
	}

	missed := t.missedLocked(a.MissingSteps)
	if !slices.Equal(missed, sp.MissedStepIDs) {
		sp.MissedStepIDs = missed
		u.StepChanged = true
	}

	cp := &t.ctx.ClientProfile
	if a.ClientSentiment != nil && cp.Sentiment != *a.ClientSentiment {
		cp.Sentiment = *a.ClientSentiment
		u.ProfileChanged = true
	}
	if a.EngagementLevel != nil {
		if lvl := a.EngagementLevel.Clamp(); lvl != cp.EngagementLevel {
			cp.EngagementLevel = lvl
			u.ProfileChanged = true
		}
	}
	if mergeUnique(&cp.Interests, a.ClientInterests) {
		u.ProfileChanged = true
	}
	if mergeUnique(&cp.Objections, a.ClientObjections) {
		u.ProfileChanged = true
	}

	u.Synth = t.engine.Apply(synth.Batch{
		Suggestions: a.Suggestions,
		Alerts:      a.Alerts,
		CurrentStep: sp.CurrentStepID,
		Objections:  a.ClientObjections,
	})
	t.ctx.Suggestions = u.Synth.Suggestions
	t.ctx.Alerts = t.engine.Alerts()

	if len(u.NewlyCompleted) > 0 {
		t.logger.Info("script steps completed", "steps", u.NewlyCompleted, "total", t.progress.Count())
	}

	u.Context = t.ctx.Clone()
	return u
}

// missedLocked returns, in script order, the required steps that are not
// completed and either were reported missing by the model or lie before the
// furthest step the call has reached.
func (t *Tracker) missedLocked(reported []string) []string {
	furthest := -1
	for _, id := range t.ctx.ScriptProgress.CompletedStepIDs {
		furthest = max(furthest, t.def.Position(id))
	}
	furthest = max(furthest, t.def.Position(t.ctx.ScriptProgress.CurrentStepID))

	flagged := make(map[string]bool, len(reported))
	for _, id := range reported {
		flagged[strings.TrimSpace(id)] = true
	}

	var out []string
	for i, s := range t.def.Steps() {
		if t.progress.Completed(s.ID) {
			continue
		}
		if flagged[s.ID] || (s.Required && i < furthest) {
			out = append(out, s.ID)
		}
	}
	return out
}

// mergeUnique appends the values of add not already in *dst, ignoring case.
func mergeUnique(dst *[]string, add []string) bool {
	changed := false
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if slices.ContainsFunc(*dst, func(have string) bool { return strings.EqualFold(have, v) }) {
			continue
		}
		*dst = append(*dst, v)
		changed = true
	}
	return changed
}

// Reset starts a new call: the context returns to its zero value, every step
// is uncompleted and the synthesis engine is cleared.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = script.NewProgress(t.def)
	t.ctx = types.ConversationContext{}
	t.engine.Reset()
}

// Snapshot returns a copy of the current context.
func (t *Tracker) Snapshot() types.ConversationContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx.Clone()
}

// Steps returns every script step with its completion state in this call.
func (t *Tracker) Steps() []script.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Statuses()
}

// ContextSnapshot returns the summary echoed with each text turn.
func (t *Tracker) ContextSnapshot() live.ContextSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return live.ContextSnapshot{
		CurrentStep: t.ctx.ScriptProgress.CurrentStepID,
		Sentiment:   t.ctx.ClientProfile.Sentiment,
		Engagement:  t.ctx.ClientProfile.EngagementLevel,
	}
}

// Definition returns the script the tracker checks against.
func (t *Tracker) Definition() *script.Definition { return t.def }
