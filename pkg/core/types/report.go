package types

import "time"

// EndReason records why a call session was torn down.
type EndReason string

const (
	EndReasonOperator EndReason = "operator"
	EndReasonRemote   EndReason = "remote_closed"
	EndReasonDevice   EndReason = "device_error"
	EndReasonReplaced EndReason = "replaced"
	EndReasonShutdown EndReason = "shutdown"
)

// CallReport is the summary persisted when a call ends.
type CallReport struct {
	SessionID       string          `json:"session_id"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	EndReason       EndReason       `json:"end_reason"`
	Fallback        bool            `json:"fallback"`
	CurrentStep     string          `json:"current_step,omitempty"`
	CompletedSteps  []string        `json:"completed_steps"`
	MissedSteps     []string        `json:"missed_steps"`
	Timeline        []TimelineEntry `json:"timeline"`
	Sentiment       Sentiment       `json:"sentiment,omitempty"`
	Engagement      int             `json:"engagement"`
	Alerts          []Alert         `json:"alerts"`
	SuggestionCount int             `json:"suggestion_count"`
}

// Duration is EndedAt minus StartedAt.
func (r CallReport) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
