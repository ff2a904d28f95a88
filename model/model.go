package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// MergeErrorMessages combines a stored error message with an incoming one.
// Empty values are ignored and identical values are not repeated.
func MergeErrorMessages(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return existing
	case existing == "", existing == incoming:
		return incoming
	default:
		return existing + "; " + incoming
	}
}

// JoinFailureMessages flattens a list of failure messages into one error message.
func JoinFailureMessages(messages []string) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, ", ")
}
