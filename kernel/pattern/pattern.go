// Package pattern wraps the external pattern-matching capability and
// normalizes its informal no-match convention into a tagged outcome.
//
// The external engine signals "no applicable pattern" either by returning
// an empty reply or by embedding the literal marker "Fallback:" anywhere in
// the reply text. That convention is recognized here, at the boundary, and
// nowhere else: the rest of the core operates on Outcome.
package pattern

import (
	"context"
	"fmt"
	"strings"
)

// FallbackMarker is the reserved substring by which the engine signals
// no-match inside ordinary reply text. Preserved bit-for-bit for
// compatibility with existing pattern content.
const FallbackMarker = "Fallback:"

// Matcher is the external pattern-matching capability: given a normalized
// utterance and a session id, return a reply string. The session id is
// passed through unchanged so the engine's own per-session state stays
// consistent across calls.
type Matcher interface {
	Match(ctx context.Context, question, sessionID string) (string, error)
}

// Outcome is the tagged result of a pattern match. Matched is false when
// the engine found no applicable pattern; Text then carries the raw engine
// reply (possibly empty, possibly containing the fallback marker).
type Outcome struct {
	Text    string
	Matched bool
}

// Recognize classifies a raw engine reply into an Outcome. The marker is
// matched anywhere in the string, not only as a prefix.
func Recognize(reply string) Outcome {
	if strings.TrimSpace(reply) == "" || strings.Contains(reply, FallbackMarker) {
		return Outcome{Text: reply}
	}
	return Outcome{Text: reply, Matched: true}
}

// Adapter normalizes calls to a Matcher.
type Adapter struct {
	matcher Matcher
}

func NewAdapter(matcher Matcher) (*Adapter, error) {
	if matcher == nil {
		return nil, fmt.Errorf("pattern: matcher is required")
	}
	return &Adapter{matcher: matcher}, nil
}

func (a *Adapter) Match(ctx context.Context, question, sessionID string) (Outcome, error) {
	reply, err := a.matcher.Match(ctx, question, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("pattern: match: %w", err)
	}
	return Recognize(reply), nil
}
