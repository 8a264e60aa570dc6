// Package normalize canonicalizes free-text answers so exact string equality
// is a reasonable proxy for "same answer" across humans and language models.
package normalize

import "strings"

// Answer trims the input, strips trailing sentence-ending punctuation,
// collapses whitespace runs to single spaces and upper-cases the result.
// Idempotent: Answer(Answer(s)) == Answer(s).
func Answer(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.TrimRight(s, ".!?")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToUpper(s)
}
