package live

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-coach/pkg/core/script"
)

const outputContract = `After every agent or client turn, answer with ONE JSON object and nothing else, using exactly this schema:
{
  "current_step": "<step id the conversation is in>",
  "completed_steps": ["<step ids completed so far>"],
  "missing_steps": ["<required step ids skipped so far>"],
  "client_sentiment": "positive" | "neutral" | "negative",
  "engagement_level": <integer 0-100>,
  "client_interests": ["<short phrases>"],
  "client_objections": ["<short phrases>"],
  "suggestions": [
    {"type": "script_reminder" | "objection_response" | "upsell" | "closing_technique",
     "text": "<what the agent could say next>",
     "context": "<why>",
     "priority": "low" | "medium" | "high"}
  ],
  "alerts": [
    {"type": "missing_step" | "wrong_order" | "legal_required" | "objection_detected",
     "message": "<what is wrong>",
     "severity": "info" | "warning" | "error",
     "suggested_action": "<how to fix it>"}
  ]
}
Use only the step ids listed above. Never invent a step id. Do not wrap the JSON in prose.`

// BuildInstruction renders the one-time session instruction: the role, the
// full step table and the output contract.
func BuildInstruction(def *script.Definition) string {
	var b strings.Builder
	b.WriteString("You are a real-time sales coach listening to a call-center agent on a live sales call. ")
	b.WriteString("You only observe and advise the agent; you never speak to the client.\n\n")
	b.WriteString("The agent must follow this script, in order:\n")
	for i, s := range def.Steps() {
		req := "required"
		if !s.Required {
			req = "optional"
		}
		fmt.Fprintf(&b, "%d. id=%q (%s) %s", i+1, s.ID, req, s.Description)
		if len(s.Keywords) > 0 {
			fmt.Fprintf(&b, " Keywords: %s.", strings.Join(quoteAll(s.Keywords), ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString("Text turns start with a [context] line carrying the current step, sentiment and engagement you last reported. Treat it as your memory of the call.\n\n")
	b.WriteString(outputContract)
	return b.String()
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
