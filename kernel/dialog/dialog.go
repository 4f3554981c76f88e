// Package dialog defines the shared vocabulary of the routing core: turn
// roles, routing modes, reply sources and the per-turn result shape.
package dialog

import "strings"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is a single role-tagged utterance in a session's history.
type Turn struct {
	Role Role
	Text string
}

// Mode selects which responder governs a turn. It is supplied per request
// and is not sticky on the session.
type Mode string

const (
	// ModePattern answers from the pattern responder only.
	ModePattern Mode = "AIML"
	// ModeGenerative answers from the generative responder only.
	ModeGenerative Mode = "LLM"
	// ModeHybrid tries the pattern responder first and falls back to the
	// generative responder when no pattern applies.
	ModeHybrid Mode = "hybrid"
)

// ParseMode maps a caller-supplied mode string to a Mode. Unknown or empty
// values select ModeHybrid.
func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "aiml":
		return ModePattern
	case "llm":
		return ModeGenerative
	case "hybrid", "":
		return ModeHybrid
	default:
		return ModeHybrid
	}
}

// Source labels where a reply came from.
type Source string

const (
	SourcePattern    Source = "AIML"
	SourceGenerative Source = "LLM"
	// SourceFallback marks a hybrid turn answered generatively after the
	// pattern responder found no match.
	SourceFallback Source = "LLM (AIML fallback)"
	// SourceNoMatch marks a pattern-only turn where no pattern applied and
	// the placeholder reply was returned.
	SourceNoMatch Source = "AIML (no match)"
	SourceError   Source = "error"
)

// Usage reports model token usage for a turn (best-effort; pattern turns
// report zeroes).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the normalized outcome of one routed turn. It is produced once
// and never mutated after return.
type Result struct {
	Text      string
	Source    Source
	Mode      Mode
	Usage     Usage
	SessionID string
}
