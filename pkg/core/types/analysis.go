package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Analysis is the JSON document the remote model is instructed to emit after
// each turn. Pointer and slice fields distinguish "not reported" from zero.
type Analysis struct {
	CurrentStep      string            `json:"current_step,omitempty"`
	CompletedSteps   []string          `json:"completed_steps,omitempty"`
	MissingSteps     []string          `json:"missing_steps,omitempty"`
	ClientSentiment  *Sentiment        `json:"client_sentiment,omitempty"`
	EngagementLevel  *Level            `json:"engagement_level,omitempty"`
	ClientInterests  []string          `json:"client_interests,omitempty"`
	ClientObjections []string          `json:"client_objections,omitempty"`
	Suggestions      []SuggestionDraft `json:"suggestions,omitempty"`
	Alerts           []AlertDraft      `json:"alerts,omitempty"`
}

// SuggestionDraft is a suggestion as reported by the model, before ids and
// timestamps are assigned.
type SuggestionDraft struct {
	Type     SuggestionType `json:"type"`
	Text     string         `json:"text"`
	Context  string         `json:"context,omitempty"`
	Priority Priority       `json:"priority,omitempty"`
}

// AlertDraft is an alert as reported by the model.
type AlertDraft struct {
	Type            AlertType `json:"type"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity,omitempty"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
}

// Level is a 0-100 score. Models sometimes quote numbers, so both 60 and
// "60" decode.
type Level float64

// UnmarshalJSON implements json.Unmarshaler.
func (l *Level) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("engagement level %q is not a number", s)
		}
		*l = Level(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Level(v)
	return nil
}

// Clamp rounds l to the nearest integer within [0,100].
func (l Level) Clamp() int {
	v := float64(l)
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}
