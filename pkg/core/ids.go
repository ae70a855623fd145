package core

import "github.com/google/uuid"

// NewID returns a prefixed, time-ordered identifier such as "sug_0190f1c2-...".
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}
