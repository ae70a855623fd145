// Package synth turns the model's suggestion and alert batches into the list
// the agent sees.
//
// Each batch replaces the model suggestions, but the engine diffs against the
// previous list so retained suggestions keep their id and consumers receive
// explicit additions and removals. Alerts only accumulate.
package synth

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// DefaultTransitionCooldown is the minimum gap between two synthesized offer transitions.
const DefaultTransitionCooldown = 8 * time.Second

type Config struct {
	TransitionCooldown time.Duration
	Now                func() time.Time
	NewID              func(prefix string) string
	Logger             *slog.Logger
}

// Batch is one analysis worth of model output.
type Batch struct {
	// Suggestions replaces the model suggestions when non-nil. A nil slice
	// means the model did not report suggestions and the list is kept.
	Suggestions []types.SuggestionDraft
	Alerts      []types.AlertDraft
	// CurrentStep is the step the call is in after the analysis was applied.
	CurrentStep string
	// Objections are the client objections reported alongside the batch.
	Objections []string
}

// Result describes what a batch changed.
type Result struct {
	// Suggestions is the full list after the batch.
	Suggestions []types.Suggestion
	Added       []types.Suggestion
	Removed     []types.Suggestion
	// Transition is set when the batch triggered a synthesized offer transition.
	Transition *types.Suggestion
	// Alerts holds only the alerts added by this batch.
	Alerts []types.Alert
}

// Changed reports whether the visible suggestion list changed.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

type suggestionKey struct {
	typ  types.SuggestionType
	text string
}

func keyOf(s types.Suggestion) suggestionKey {
	return suggestionKey{typ: s.Type, text: s.Text}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg Config

	mu             sync.Mutex
	model          []types.Suggestion
	pinned         *types.Suggestion
	lastTransition time.Time
	alerts         []types.Alert
}

func New(cfg Config) *Engine {
	if cfg.TransitionCooldown <= 0 {
		cfg.TransitionCooldown = DefaultTransitionCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = core.NewID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}
}

// Apply folds one batch into the engine.
func (e *Engine) Apply(b Batch) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	before := e.visibleLocked()

	var res Result
	if b.Suggestions != nil {
		e.model = e.replaceLocked(b.Suggestions, now)
	}

	if t := e.maybeTransitionLocked(b, now); t != nil {
		e.pinned = t
		copied := *t
		res.Transition = &copied
	}

	after := e.visibleLocked()
	res.Suggestions = after
	res.Added, res.Removed = diff(before, after)

	for _, d := range b.Alerts {
		if !d.Type.Valid() || strings.TrimSpace(d.Message) == "" {
			continue
		}
		sev := d.Severity
		if !sev.Valid() {
			sev = types.SeverityWarning
		}
		a := types.Alert{
			ID:              e.cfg.NewID("alert"),
			Type:            d.Type,
			Message:         strings.TrimSpace(d.Message),
			Severity:        sev,
			Timestamp:       now,
			SuggestedAction: strings.TrimSpace(d.SuggestedAction),
		}
		e.alerts = append(e.alerts, a)
		res.Alerts = append(res.Alerts, a)
	}
	return res
}

// replaceLocked builds the new model list, reusing id and timestamp for
// suggestions already on screen.
func (e *Engine) replaceLocked(drafts []types.SuggestionDraft, now time.Time) []types.Suggestion {
	existing := make(map[suggestionKey]types.Suggestion, len(e.model))
	for _, s := range e.model {
		existing[keyOf(s)] = s
	}

	next := make([]types.Suggestion, 0, len(drafts))
	seen := make(map[suggestionKey]bool, len(drafts))
	for _, d := range drafts {
		text := strings.TrimSpace(d.Text)
		if !d.Type.Valid() || text == "" {
			continue
		}
		k := suggestionKey{typ: d.Type, text: text}
		if seen[k] {
			continue
		}
		seen[k] = true

		prio := d.Priority
		if !prio.Valid() {
			prio = types.PriorityMedium
		}
		if old, ok := existing[k]; ok {
			old.Context = strings.TrimSpace(d.Context)
			old.Priority = prio
			next = append(next, old)
			continue
		}
		next = append(next, types.Suggestion{
			ID:        e.cfg.NewID("sug"),
			Type:      d.Type,
			Text:      text,
			Context:   strings.TrimSpace(d.Context),
			Priority:  prio,
			Timestamp: now,
			Clickable: true,
		})
	}
	return next
}

func (e *Engine) maybeTransitionLocked(b Batch, now time.Time) *types.Suggestion {
	if !transitionSteps[b.CurrentStep] {
		return nil
	}
	var objection *types.SuggestionDraft
	for i := range b.Suggestions {
		if b.Suggestions[i].Type == types.SuggestionObjectionResponse {
			objection = &b.Suggestions[i]
			break
		}
	}
	if objection == nil {
		return nil
	}
	if !e.lastTransition.IsZero() && now.Sub(e.lastTransition) < e.cfg.TransitionCooldown {
		e.cfg.Logger.Debug("offer transition suppressed by cooldown",
			"since_last", now.Sub(e.lastTransition),
			"cooldown", e.cfg.TransitionCooldown,
		)
		return nil
	}

	signal := strings.Join(append([]string{objection.Text, objection.Context}, b.Objections...), " ")
	rule, text := transitionText(signal)
	e.lastTransition = now
	e.cfg.Logger.Debug("offer transition synthesized", "rule", rule, "step", b.CurrentStep)

	return &types.Suggestion{
		ID:        e.cfg.NewID("sug"),
		Type:      types.SuggestionOfferTransition,
		Text:      text,
		Context:   "objection during " + b.CurrentStep,
		Priority:  types.PriorityHigh,
		Timestamp: now,
		Clickable: true,
	}
}

// visibleLocked returns the pinned transition, if any, followed by the model list.
func (e *Engine) visibleLocked() []types.Suggestion {
	out := make([]types.Suggestion, 0, len(e.model)+1)
	if e.pinned != nil {
		out = append(out, *e.pinned)
	}
	return append(out, e.model...)
}

func diff(before, after []types.Suggestion) (added, removed []types.Suggestion) {
	beforeIDs := make(map[string]bool, len(before))
	for _, s := range before {
		beforeIDs[s.ID] = true
	}
	afterIDs := make(map[string]bool, len(after))
	for _, s := range after {
		afterIDs[s.ID] = true
		if !beforeIDs[s.ID] {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !afterIDs[s.ID] {
			removed = append(removed, s)
		}
	}
	return added, removed
}

// Suggestions returns the visible suggestion list.
func (e *Engine) Suggestions() []types.Suggestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visibleLocked()
}

// Alerts returns every alert raised since the last reset.
func (e *Engine) Alerts() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.alerts)
}

// Reset clears suggestions, alerts and the transition cooldown for a new call.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = nil
	e.pinned = nil
	e.alerts = nil
	e.lastTransition = time.Time{}
}
