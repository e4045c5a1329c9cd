package helpers

import "strings"

// OptionalString returns a pointer to s, or nil when s is blank.
func OptionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
