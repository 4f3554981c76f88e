// Package override patches known context blindness of the pattern
// responder.
//
// The pattern engine's own previous-reply mechanism is unreliable, so this
// layer inspects the most recent bot turn and the current question and may
// replace the raw pattern outcome with a fixed compensating reply. It is
// stateless: a pure function of question, history and raw outcome.
//
// Rules are data, not branching logic: an ordered list of (predicate,
// reply) pairs evaluated in a single deterministic pass, first match wins.
// Order matters — specific triggers precede the broad dangling-referent
// rule so it cannot swallow their cases.
package override

import (
	"strings"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/pattern"
)

// Rule pairs a trigger predicate with the fixed reply it produces. Both
// inputs arrive case-normalized (lowercased, trimmed).
type Rule struct {
	Name    string
	Applies func(question, lastBot string) bool
	Reply   string
}

// Layer applies an ordered rule list to each turn.
type Layer struct {
	rules []Rule
}

func New(rules []Rule) *Layer {
	return &Layer{rules: rules}
}

// Default returns a layer with the standard rule set.
func Default() *Layer {
	return New(DefaultRules())
}

// Adjust returns the final pattern outcome for the turn: the first
// matching rule's reply, or raw unchanged (sentinel text included — the
// router, not this layer, decides what a no-match outcome means).
func (l *Layer) Adjust(question string, hist []dialog.Turn, raw pattern.Outcome) pattern.Outcome {
	q := strings.ToLower(strings.TrimSpace(question))
	lastBot := strings.ToLower(lastBotTurn(hist))
	for _, rule := range l.rules {
		if rule.Applies(q, lastBot) {
			return pattern.Outcome{Text: rule.Reply, Matched: true}
		}
	}
	return raw
}

func lastBotTurn(hist []dialog.Turn) string {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == dialog.RoleBot {
			return hist[i].Text
		}
	}
	return ""
}

var placeTerms = []string{"country", "city", "island", "nation", "located", "capital"}

// DefaultRules is the standard compensation policy, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "eating-followup",
			Applies: func(_, lastBot string) bool {
				return strings.Contains(lastBot, "what will you be eating")
			},
			Reply: "How does it taste?",
		},
		{
			Name: "travel-interest",
			Applies: func(question, lastBot string) bool {
				wantsTravel := strings.Contains(question, "want to travel") ||
					strings.Contains(question, "travel there")
				return wantsTravel && containsAny(lastBot, placeTerms)
			},
			Reply: "That sounds like a place worth visiting. What would you most like to see there?",
		},
		{
			Name: "goal-clarify",
			Applies: func(question, _ string) bool {
				return strings.HasPrefix(question, "i want to")
			},
			Reply: "What makes you want to do that?",
		},
		{
			Name: "travel-timing",
			Applies: func(question, _ string) bool {
				return hasToken(question, "there", "it", "that") &&
					hasToken(question, "travel", "go", "visit")
			},
			Reply: "When are you planning to go?",
		},
	}
}

func containsAny(value string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(value, term) {
			return true
		}
	}
	return false
}

// hasToken reports whether any of the given words appears as a separate
// token, so "it" does not trigger on "italy".
func hasToken(value string, words ...string) bool {
	for _, field := range strings.Fields(value) {
		token := strings.Trim(field, ".,!?;:\"'")
		for _, word := range words {
			if token == word {
				return true
			}
		}
	}
	return false
}
