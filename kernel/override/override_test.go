package override

import (
	"testing"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/pattern"
)

func histWithBot(text string) []dialog.Turn {
	return []dialog.Turn{
		{Role: dialog.RoleUser, Text: "I am hungry"},
		{Role: dialog.RoleBot, Text: text},
	}
}

func TestAdjust_EatingFollowup(t *testing.T) {
	layer := Default()
	hist := histWithBot("What will you be eating tonight?")

	// The rule fires regardless of the question and the raw reply.
	raw := pattern.Outcome{Text: "Fallback: no idea.", Matched: false}
	out := layer.Adjust("Pizza", hist, raw)
	if !out.Matched || out.Text != "How does it taste?" {
		t.Fatalf("expected eating follow-up, got %+v", out)
	}

	raw = pattern.Outcome{Text: "Pizza is an Italian dish.", Matched: true}
	out = layer.Adjust("Pizza", hist, raw)
	if out.Text != "How does it taste?" {
		t.Fatalf("rule must override a matched raw reply too, got %+v", out)
	}
}

func TestAdjust_TravelInterest(t *testing.T) {
	layer := Default()
	hist := histWithBot("Paris is the capital of France.")
	out := layer.Adjust("I would want to travel soon", hist, pattern.Outcome{})
	if !out.Matched {
		t.Fatalf("expected travel-interest rule to fire, got %+v", out)
	}

	// Without a place term in the prior bot turn the rule must not fire.
	hist = histWithBot("That is a nice hobby.")
	out = layer.Adjust("I would love to travel there", hist, pattern.Outcome{Text: "raw", Matched: true})
	if out.Text == "" || out.Text != "raw" {
		// "travel there" also satisfies rule 4's referent check, which is
		// allowed to fire here; only the travel-interest rule is excluded.
		if out.Text != "When are you planning to go?" {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	}
}

func TestAdjust_GoalClarify(t *testing.T) {
	layer := Default()
	out := layer.Adjust("I want to learn the guitar", nil, pattern.Outcome{})
	if !out.Matched || out.Text != "What makes you want to do that?" {
		t.Fatalf("expected goal-clarifying prompt, got %+v", out)
	}
}

func TestAdjust_TravelTiming(t *testing.T) {
	layer := Default()
	out := layer.Adjust("Should we go there next summer?", nil, pattern.Outcome{})
	if !out.Matched || out.Text != "When are you planning to go?" {
		t.Fatalf("expected travel-timing prompt, got %+v", out)
	}
}

func TestAdjust_TokenBoundary(t *testing.T) {
	layer := Default()
	// "italy" contains "it" and "good" contains "go"; neither is a token,
	// so the referent rule must not fire.
	out := layer.Adjust("italy sounds good", nil, pattern.Outcome{Text: "raw", Matched: true})
	if out.Text != "raw" {
		t.Fatalf("substring hit must not trigger the referent rule, got %+v", out)
	}
}

func TestAdjust_Passthrough(t *testing.T) {
	layer := Default()
	raw := pattern.Outcome{Text: "The sky is blue.", Matched: true}
	out := layer.Adjust("Why is the sky blue?", nil, raw)
	if out != raw {
		t.Fatalf("expected passthrough, got %+v", out)
	}

	// A no-match outcome passes through unchanged as well: the router
	// decides what a sentinel means.
	raw = pattern.Outcome{Text: "Fallback: beats me.", Matched: false}
	out = layer.Adjust("Why is the sky blue?", nil, raw)
	if out != raw {
		t.Fatalf("expected sentinel passthrough, got %+v", out)
	}
}

func TestAdjust_RuleOrder(t *testing.T) {
	layer := Default()
	hist := histWithBot("What will you be eating tonight?")
	// Satisfies rule 1 (prior bot turn) and rule 4 (dangling "it" plus
	// "go"); first match must win.
	out := layer.Adjust("Can we go eat it now?", hist, pattern.Outcome{})
	if out.Text != "How does it taste?" {
		t.Fatalf("rule order violated, got %+v", out)
	}
}

func TestAdjust_UsesMostRecentBotTurn(t *testing.T) {
	layer := Default()
	hist := []dialog.Turn{
		{Role: dialog.RoleBot, Text: "What will you be eating tonight?"},
		{Role: dialog.RoleUser, Text: "Pasta"},
		{Role: dialog.RoleBot, Text: "Sounds tasty."},
	}
	out := layer.Adjust("Pasta", hist, pattern.Outcome{Text: "raw", Matched: true})
	if out.Text != "raw" {
		t.Fatalf("older bot turn must not trigger the rule, got %+v", out)
	}
}
