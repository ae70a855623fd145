package types

import (
	"slices"
	"time"
)

// SuggestionType classifies a coaching hint.
type SuggestionType string

const (
	SuggestionScriptReminder    SuggestionType = "script_reminder"
	SuggestionObjectionResponse SuggestionType = "objection_response"
	SuggestionUpsell            SuggestionType = "upsell"
	SuggestionClosingTechnique  SuggestionType = "closing_technique"
	// SuggestionOfferTransition is synthesized locally, never sent by the model.
	SuggestionOfferTransition SuggestionType = "offer_transition"
)

// Valid reports whether t is a known suggestion type.
func (t SuggestionType) Valid() bool {
	switch t {
	case SuggestionScriptReminder, SuggestionObjectionResponse, SuggestionUpsell,
		SuggestionClosingTechnique, SuggestionOfferTransition:
		return true
	default:
		return false
	}
}

// Priority ranks a suggestion for display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Suggestion is a coaching hint surfaced to the agent.
type Suggestion struct {
	ID        string         `json:"id"`
	Type      SuggestionType `json:"type"`
	Text      string         `json:"text"`
	Context   string         `json:"context,omitempty"`
	Priority  Priority       `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Clickable bool           `json:"clickable"`
}

// AlertType classifies a compliance warning.
type AlertType string

const (
	AlertMissingStep       AlertType = "missing_step"
	AlertWrongOrder        AlertType = "wrong_order"
	AlertLegalRequired     AlertType = "legal_required"
	AlertObjectionDetected AlertType = "objection_detected"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertMissingStep, AlertWrongOrder, AlertLegalRequired, AlertObjectionDetected:
		return true
	default:
		return false
	}
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

// Alert is a compliance warning. Alerts are append-only for the life of a call.
type Alert struct {
	ID              string    `json:"id"`
	Type            AlertType `json:"type"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity"`
	Timestamp       time.Time `json:"timestamp"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
}

// Sentiment is the model's estimate of the client's mood.
// The empty value means no estimate has arrived yet in this call.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the three known sentiments.
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}

// ClientProfile is what the model has learned about the caller so far.
type ClientProfile struct {
	Interests       []string  `json:"interests,omitempty"`
	Objections      []string  `json:"objections,omitempty"`
	Sentiment       Sentiment `json:"sentiment,omitempty"`
	EngagementLevel int       `json:"engagement_level"`
}

// TimelineEntry records when a script step was first completed.
type TimelineEntry struct {
	StepID string    `json:"step_id"`
	At     time.Time `json:"at"`
}

// ScriptProgress tracks script compliance within one call.
type ScriptProgress struct {
	CurrentStepID    string          `json:"current_step_id,omitempty"`
	CompletedStepIDs []string        `json:"completed_step_ids,omitempty"`
	MissedStepIDs    []string        `json:"missed_step_ids,omitempty"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`
}

// ConversationContext is the per-call state folded from model analyses.
// Its zero value is the state of a freshly started call.
type ConversationContext struct {
	ClientProfile  ClientProfile  `json:"client_profile"`
	ScriptProgress ScriptProgress `json:"script_progress"`
	Suggestions    []Suggestion   `json:"suggestions,omitempty"`
	Alerts         []Alert        `json:"alerts,omitempty"`
}

// Clone returns a deep copy that shares no slices with c.
func (c ConversationContext) Clone() ConversationContext {
	return ConversationContext{
		ClientProfile: ClientProfile{
			Interests:       slices.Clone(c.ClientProfile.Interests),
			Objections:      slices.Clone(c.ClientProfile.Objections),
			Sentiment:       c.ClientProfile.Sentiment,
			EngagementLevel: c.ClientProfile.EngagementLevel,
		},
		ScriptProgress: ScriptProgress{
			CurrentStepID:    c.ScriptProgress.CurrentStepID,
			CompletedStepIDs: slices.Clone(c.ScriptProgress.CompletedStepIDs),
			MissedStepIDs:    slices.Clone(c.ScriptProgress.MissedStepIDs),
			Timeline:         slices.Clone(c.ScriptProgress.Timeline),
		},
		Suggestions: slices.Clone(c.Suggestions),
		Alerts:      slices.Clone(c.Alerts),
	}
}
