package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/generative"
	"github.com/OnslaughtSnail/parley/kernel/history/inmemory"
	"github.com/OnslaughtSnail/parley/kernel/override"
	"github.com/OnslaughtSnail/parley/kernel/pattern"
)

type fakePattern struct {
	mu      sync.Mutex
	outcome pattern.Outcome
	err     error
	calls   int
}

func (f *fakePattern) Match(ctx context.Context, question, sessionID string) (pattern.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome, f.err
}

type fakeGenerative struct {
	mu       sync.Mutex
	text     string
	usage    dialog.Usage
	err      error
	calls    int
	lastHist []dialog.Turn
	delay    time.Duration
}

func (f *fakeGenerative) Complete(ctx context.Context, message string, hist []dialog.Turn) (*generative.Completion, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastHist = append([]dialog.Turn(nil), hist...)
	if f.err != nil {
		return nil, f.err
	}
	return &generative.Completion{Text: f.text, Usage: f.usage}, nil
}

func newTestRouter(t *testing.T, p *fakePattern, g *fakeGenerative) (*Router, *inmemory.Store) {
	t.Helper()
	store := inmemory.New()
	cfg := Config{History: store, Pattern: p, Overrides: override.Default()}
	if g != nil {
		cfg.Generative = g
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, store
}

func TestRoute_EmptyQuestion(t *testing.T) {
	r, store := newTestRouter(t, &fakePattern{}, nil)
	if _, err := r.Route(context.Background(), "   ", "s1", dialog.ModeHybrid); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 0 {
		t.Fatalf("empty question must not touch history, got %d turns", len(hist))
	}
}

func TestRoute_GeneratesSessionID(t *testing.T) {
	r, _ := newTestRouter(t, &fakePattern{outcome: pattern.Outcome{Text: "Hello!", Matched: true}}, nil)
	r.newSessionID = func() string { return "fresh" }
	res, err := r.Route(context.Background(), "Hi", "", dialog.ModePattern)
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != "fresh" {
		t.Fatalf("expected generated session id to be echoed, got %q", res.SessionID)
	}
}

func TestRoute_PatternMatched(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{Text: "The sky is blue.", Matched: true}}
	r, store := newTestRouter(t, p, nil)
	res, err := r.Route(context.Background(), "Why is the sky blue?", "s1", dialog.ModePattern)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "The sky is blue." || res.Source != dialog.SourcePattern {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Usage != (dialog.Usage{}) {
		t.Fatalf("pattern turn must report zero usage, got %+v", res.Usage)
	}
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2 || hist[0].Role != dialog.RoleUser || hist[1].Text != "The sky is blue." {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestRoute_PatternNoMatch(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{Text: "Fallback: beats me."}}
	g := &fakeGenerative{text: "never called"}
	r, store := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Quantum gravity?", "s1", dialog.ModePattern)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != ":)" || res.Source != dialog.SourceNoMatch {
		t.Fatalf("unexpected result %+v", res)
	}
	if g.calls != 0 {
		t.Fatal("pattern-only mode must never reach the generative service")
	}
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2 || hist[1].Text != ":)" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestRoute_Generative(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{Text: "matched", Matched: true}}
	g := &fakeGenerative{text: "Certainly.", usage: dialog.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}}
	r, store := newTestRouter(t, p, g)

	// Seed a prior turn so the prompt history is observable.
	store.Append(context.Background(), "s1", dialog.Turn{Role: dialog.RoleUser, Text: "earlier"})

	res, err := r.Route(context.Background(), "Tell me more", "s1", dialog.ModeGenerative)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Certainly." || res.Source != dialog.SourceGenerative {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens != 8 {
		t.Fatalf("usage not propagated: %+v", res.Usage)
	}
	if p.calls != 0 {
		t.Fatal("generative mode must not consult the pattern engine")
	}
	// The current question must not already be in the prompt history.
	for _, turn := range g.lastHist {
		if turn.Text == "Tell me more" {
			t.Fatal("current question duplicated in prompt history")
		}
	}
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 3 || hist[2].Text != "Certainly." {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestRoute_GenerativeFailure(t *testing.T) {
	g := &fakeGenerative{err: &generative.ServiceError{Kind: generative.KindUpstream, Err: errors.New("boom")}}
	r, store := newTestRouter(t, &fakePattern{}, g)
	res, err := r.Route(context.Background(), "Hi", "s1", dialog.ModeGenerative)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != dialog.SourceError {
		t.Fatalf("expected error source, got %+v", res)
	}
	if res.Text != "Sorry, an error occurred processing your message" {
		t.Fatalf("unexpected apology %q", res.Text)
	}
	if strings.Contains(res.Text, "boom") {
		t.Fatal("upstream error text must not leak to the user")
	}
	if res.Usage != (dialog.Usage{}) {
		t.Fatalf("failed turn must report zero usage, got %+v", res.Usage)
	}
	// The failed turn is still recorded, apology included.
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2 || hist[1].Text != res.Text {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestRoute_GenerativeTimeoutApology(t *testing.T) {
	g := &fakeGenerative{err: &generative.ServiceError{Kind: generative.KindTimeout, Err: context.DeadlineExceeded}}
	r, _ := newTestRouter(t, &fakePattern{}, g)
	res, err := r.Route(context.Background(), "Hi", "s1", dialog.ModeGenerative)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != dialog.SourceError {
		t.Fatalf("expected error source, got %+v", res)
	}
	if !strings.Contains(res.Text, "taking too long") {
		t.Fatalf("expected timeout wording, got %q", res.Text)
	}
}

func TestRoute_GenerativeUnconfigured(t *testing.T) {
	r, _ := newTestRouter(t, &fakePattern{}, nil)
	res, err := r.Route(context.Background(), "Hi", "s1", dialog.ModeGenerative)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != dialog.SourceError {
		t.Fatalf("expected apology when no generative service is set, got %+v", res)
	}
}

func TestRoute_HybridPatternWins(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{Text: "Hello there!", Matched: true}}
	g := &fakeGenerative{text: "never"}
	r, _ := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Hello", "s1", dialog.ModeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello there!" || res.Source != dialog.SourcePattern {
		t.Fatalf("unexpected result %+v", res)
	}
	if g.calls != 0 {
		t.Fatal("matched pattern must short-circuit the fallback")
	}
}

func TestRoute_HybridFallback(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{Text: "Fallback: no idea."}}
	g := &fakeGenerative{text: "A thoughtful answer.", usage: dialog.Usage{TotalTokens: 12}}
	r, store := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Explain entropy", "s1", dialog.ModeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "A thoughtful answer." || res.Source != dialog.SourceFallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens != 12 {
		t.Fatalf("usage not propagated: %+v", res.Usage)
	}
	// The placeholder must have been revised in place: exactly two
	// turns, the second carrying the completion.
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2 {
		t.Fatalf("expected 2 turns, got %+v", hist)
	}
	if hist[1].Text != "A thoughtful answer." || hist[1].Role != dialog.RoleBot {
		t.Fatalf("placeholder not revised: %+v", hist[1])
	}
	// The prompt history excludes this turn entirely.
	if len(g.lastHist) != 0 {
		t.Fatalf("prompt history should predate the turn, got %+v", g.lastHist)
	}
}

func TestRoute_HybridFallbackFailure(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{}}
	g := &fakeGenerative{err: &generative.ServiceError{Kind: generative.KindUpstream, Err: errors.New("503")}}
	r, store := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Explain entropy", "s1", dialog.ModeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != dialog.SourceError {
		t.Fatalf("expected error source, got %+v", res)
	}
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2 || hist[1].Text != res.Text {
		t.Fatalf("apology must replace the placeholder, got %+v", hist)
	}
}

func TestRoute_HybridPatternErrorFallsBack(t *testing.T) {
	p := &fakePattern{err: errors.New("engine down")}
	g := &fakeGenerative{text: "Covered for you."}
	r, _ := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Hello", "s1", dialog.ModeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Covered for you." || res.Source != dialog.SourceFallback {
		t.Fatalf("pattern failure should degrade to the fallback, got %+v", res)
	}
}

func TestRoute_HybridOverride(t *testing.T) {
	// Raw pattern reply would match, but the override layer rewrites it
	// based on the prior bot turn.
	p := &fakePattern{outcome: pattern.Outcome{Text: "Pizza is an Italian dish.", Matched: true}}
	r, store := newTestRouter(t, p, &fakeGenerative{text: "never"})

	ctx := context.Background()
	store.Append(ctx, "s1", dialog.Turn{Role: dialog.RoleUser, Text: "I am hungry"})
	store.Append(ctx, "s1", dialog.Turn{Role: dialog.RoleBot, Text: "What will you be eating tonight?"})

	res, err := r.Route(ctx, "Pizza", "s1", dialog.ModeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "How does it taste?" || res.Source != dialog.SourcePattern {
		t.Fatalf("expected contextual follow-up, got %+v", res)
	}
}

func TestRoute_DefaultModeIsHybrid(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{}}
	g := &fakeGenerative{text: "Fell through."}
	r, _ := newTestRouter(t, p, g)
	res, err := r.Route(context.Background(), "Hi", "s1", dialog.ParseMode(""))
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != dialog.SourceFallback {
		t.Fatalf("empty mode must route as hybrid, got %+v", res)
	}
	if res.Mode != dialog.ModeHybrid {
		t.Fatalf("result mode not echoed, got %q", res.Mode)
	}
}

func TestRoute_SameSessionSerialized(t *testing.T) {
	p := &fakePattern{outcome: pattern.Outcome{}}
	g := &fakeGenerative{text: "slow answer", delay: 20 * time.Millisecond}
	r, store := newTestRouter(t, p, g)

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Route(context.Background(), "question", "s1", dialog.ModeHybrid); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Each turn appends a user/bot pair and revises the bot turn in
	// place; interleaving would leave a stray placeholder behind.
	hist, _ := store.Get(context.Background(), "s1")
	if len(hist) != 2*turns {
		t.Fatalf("expected %d turns, got %d", 2*turns, len(hist))
	}
	for i, turn := range hist {
		wantRole := dialog.RoleUser
		if i%2 == 1 {
			wantRole = dialog.RoleBot
			if turn.Text != "slow answer" {
				t.Fatalf("turn %d: placeholder leaked: %+v", i, turn)
			}
		}
		if turn.Role != wantRole {
			t.Fatalf("turn %d: role out of order: %+v", i, turn)
		}
	}
}
