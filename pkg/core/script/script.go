// Package script defines the ordered sales script a call is checked against.
//
// A Definition is immutable once built and may be shared by every call in the
// process. Completion state lives in a per-call Progress, so starting a new
// call never has to reset shared state.
package script

import (
	"fmt"
	"strings"
	"time"
)

// Step is one stage of the sales conversation.
type Step struct {
	ID          string   `toml:"id" json:"id"`
	Title       string   `toml:"title" json:"title"`
	Description string   `toml:"description" json:"description"`
	Keywords    []string `toml:"keywords" json:"keywords"`
	Required    bool     `toml:"required" json:"required"`
}

// Definition is an ordered, validated list of steps.
type Definition struct {
	steps []Step
	index map[string]int
}

// NewDefinition validates steps and returns a definition that owns a copy of them.
func NewDefinition(steps []Step) (*Definition, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("script must contain at least one step")
	}
	d := &Definition{
		steps: make([]Step, 0, len(steps)),
		index: make(map[string]int, len(steps)),
	}
	for i, s := range steps {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("step %d: id must not be empty", i)
		}
		if _, dup := d.index[s.ID]; dup {
			return nil, fmt.Errorf("step %d: duplicate id %q", i, s.ID)
		}
		if s.Title == "" {
			s.Title = s.ID
		}
		kw := make([]string, 0, len(s.Keywords))
		for _, k := range s.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				kw = append(kw, k)
			}
		}
		s.Keywords = kw
		d.index[s.ID] = len(d.steps)
		d.steps = append(d.steps, s)
	}
	return d, nil
}

// Steps returns a copy of the ordered steps.
func (d *Definition) Steps() []Step {
	out := make([]Step, len(d.steps))
	for i, s := range d.steps {
		s.Keywords = append([]string(nil), s.Keywords...)
		out[i] = s
	}
	return out
}

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.steps) }

// Has reports whether id names a step.
func (d *Definition) Has(id string) bool {
	_, ok := d.index[id]
	return ok
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	i, ok := d.index[id]
	if !ok {
		return Step{}, false
	}
	s := d.steps[i]
	s.Keywords = append([]string(nil), s.Keywords...)
	return s, true
}

// Position returns the zero-based order of id, or -1.
func (d *Definition) Position(id string) int {
	i, ok := d.index[id]
	if !ok {
		return -1
	}
	return i
}

// Status is the per-call view of a step: the definition plus its completion.
type Status struct {
	Step
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
