package script

import "time"

// Progress is the completion state of one call. It is not safe for
// concurrent use; the tracker owns it.
type Progress struct {
	def       *Definition
	completed map[string]time.Time
}

// NewProgress returns an empty progress for def.
func NewProgress(def *Definition) *Progress {
	return &Progress{def: def, completed: make(map[string]time.Time)}
}

// MarkCompleted records id as completed at at. It returns false when id is
// unknown or was already completed, leaving the first completion time intact.
func (p *Progress) MarkCompleted(id string, at time.Time) bool {
	if !p.def.Has(id) {
		return false
	}
	if _, done := p.completed[id]; done {
		return false
	}
	p.completed[id] = at
	return true
}

// Completed reports whether id has been completed in this call.
func (p *Progress) Completed(id string) bool {
	_, ok := p.completed[id]
	return ok
}

// CompletedAt returns when id was completed.
func (p *Progress) CompletedAt(id string) (time.Time, bool) {
	at, ok := p.completed[id]
	return at, ok
}

// Count returns the number of completed steps.
func (p *Progress) Count() int { return len(p.completed) }

// Statuses returns every step in script order with its completion state.
func (p *Progress) Statuses() []Status {
	out := make([]Status, 0, p.def.Len())
	for _, s := range p.def.Steps() {
		st := Status{Step: s}
		if at, ok := p.completed[s.ID]; ok {
			at := at
			st.Completed = true
			st.CompletedAt = &at
		}
		out = append(out, st)
	}
	return out
}

// PendingRequired returns required steps not yet completed, in script order.
func (p *Progress) PendingRequired() []string {
	var out []string
	for _, s := range p.def.steps {
		if !s.Required {
			continue
		}
		if _, ok := p.completed[s.ID]; !ok {
			out = append(out, s.ID)
		}
	}
	return out
}
