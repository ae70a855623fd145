package live

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// ParseAnalysis decodes model text into the analysis contract. Markdown code
// fences and any prose around the outermost JSON object are ignored.
// Suggestions and alerts with an unknown type or empty text are dropped.
func ParseAnalysis(text string) (types.Analysis, error) {
	body := extractObject(stripFences(text))
	if body == "" {
		return types.Analysis{}, core.NewMalformedOutputError("model output contains no JSON object", nil)
	}

	var a types.Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return types.Analysis{}, core.NewMalformedOutputError("model output does not match the analysis schema", err)
	}
	return sanitize(a), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json", "JSON", ...).
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func sanitize(a types.Analysis) types.Analysis {
	a.CurrentStep = strings.TrimSpace(a.CurrentStep)
	if a.ClientSentiment != nil && !a.ClientSentiment.Valid() {
		a.ClientSentiment = nil
	}

	suggestions := a.Suggestions[:0:0]
	for _, s := range a.Suggestions {
		s.Text = strings.TrimSpace(s.Text)
		if !s.Type.Valid() || s.Text == "" {
			continue
		}
		if !s.Priority.Valid() {
			s.Priority = types.PriorityMedium
		}
		suggestions = append(suggestions, s)
	}
	a.Suggestions = suggestions

	alerts := a.Alerts[:0:0]
	for _, al := range a.Alerts {
		al.Message = strings.TrimSpace(al.Message)
		if !al.Type.Valid() || al.Message == "" {
			continue
		}
		if !al.Severity.Valid() {
			al.Severity = types.SeverityWarning
		}
		alerts = append(alerts, al)
	}
	a.Alerts = alerts
	return a
}
