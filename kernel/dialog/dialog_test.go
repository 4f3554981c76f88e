package dialog

import "testing"

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"AIML":    ModePattern,
		"aiml":    ModePattern,
		"LLM":     ModeGenerative,
		"llm":     ModeGenerative,
		"hybrid":  ModeHybrid,
		"Hybrid":  ModeHybrid,
		"":        ModeHybrid,
		"unknown": ModeHybrid,
	}
	for raw, want := range cases {
		if got := ParseMode(raw); got != want {
			t.Fatalf("ParseMode(%q) = %q, want %q", raw, got, want)
		}
	}
}
