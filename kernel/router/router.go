// Package router decides, per turn, how a question is answered: by the
// pattern engine, by the generative service, or by the hybrid strategy
// that tries patterns first and falls back to generation on no-match.
//
// A turn is the unit of atomicity. All history mutation for one turn
// happens under that session's lock, so concurrent requests against the
// same session observe whole turns, never half of one. Distinct
// sessions proceed in parallel.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/generative"
	"github.com/OnslaughtSnail/parley/kernel/history"
	"github.com/OnslaughtSnail/parley/kernel/override"
	"github.com/OnslaughtSnail/parley/kernel/pattern"

	"github.com/google/uuid"
)

// ErrEmptyQuestion is returned when the question is empty or whitespace.
// It is the only user-facing error Route returns; everything downstream
// degrades to an apology reply instead.
var ErrEmptyQuestion = errors.New("router: empty question")

const (
	// placeholderReply stands in for the bot turn while the hybrid
	// fallback is still waiting on the generative service, and is the
	// final reply when the pattern-only strategy finds nothing.
	placeholderReply = ":)"

	apologyText        = "Sorry, an error occurred processing your message"
	timeoutApologyText = "Sorry, I'm taking too long to think right now. Please try again in a moment."
)

// PatternResponder is the pattern side of the router, normally
// *pattern.Adapter.
type PatternResponder interface {
	Match(ctx context.Context, question, sessionID string) (pattern.Outcome, error)
}

// GenerativeResponder is the generative side of the router, normally
// *generative.Client.
type GenerativeResponder interface {
	Complete(ctx context.Context, message string, hist []dialog.Turn) (*generative.Completion, error)
}

// Config assembles a Router. History and Pattern are required.
// Generative may be nil; strategies that need it then answer with the
// apology reply. A nil Overrides layer means no contextual rules, and a
// nil Logger discards logs.
type Config struct {
	History    history.Store
	Pattern    PatternResponder
	Generative GenerativeResponder
	Overrides  *override.Layer
	Logger     *zap.Logger
}

// Router routes one question per call. Safe for concurrent use.
type Router struct {
	history    history.Store
	pattern    PatternResponder
	generative GenerativeResponder
	overrides  *override.Layer
	logger     *zap.Logger
	locks      *sessionLocks

	// newSessionID is swapped in tests for determinism.
	newSessionID func() string
}

func New(cfg Config) (*Router, error) {
	if cfg.History == nil {
		return nil, fmt.Errorf("router: history store is required")
	}
	if cfg.Pattern == nil {
		return nil, fmt.Errorf("router: pattern responder is required")
	}
	overrides := cfg.Overrides
	if overrides == nil {
		overrides = override.New(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		history:      cfg.History,
		pattern:      cfg.Pattern,
		generative:   cfg.Generative,
		overrides:    overrides,
		logger:       logger,
		locks:        newSessionLocks(),
		newSessionID: uuid.NewString,
	}, nil
}

// Route answers one question. An empty session id starts a fresh
// session; the id actually used is echoed in the result. Route returns
// an error only for an empty question, in which case no history is
// touched. Every other failure is absorbed into an apology result with
// Source set to the error source.
func (r *Router) Route(ctx context.Context, question, sessionID string, mode dialog.Mode) (*dialog.Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if sessionID == "" {
		sessionID = r.newSessionID()
	}

	unlock := r.locks.lock(sessionID)
	defer unlock()

	var res *dialog.Result
	switch mode {
	case dialog.ModeGenerative:
		res = r.routeGenerative(ctx, question, sessionID)
	case dialog.ModePattern:
		res = r.routePattern(ctx, question, sessionID)
	default:
		mode = dialog.ModeHybrid
		res = r.routeHybrid(ctx, question, sessionID)
	}
	res.Mode = mode
	res.SessionID = sessionID
	return res, nil
}

// routeGenerative sends every question straight to the generative
// service. The prompt history is read before this turn's user message
// is recorded, so the message appears exactly once in the prompt.
func (r *Router) routeGenerative(ctx context.Context, question, sessionID string) *dialog.Result {
	hist := r.turns(ctx, sessionID)

	res := &dialog.Result{Source: dialog.SourceGenerative}
	comp, err := r.complete(ctx, question, hist)
	if err != nil {
		r.logger.Warn("generative completion failed",
			zap.String("session_id", sessionID), zap.Error(err))
		res.Text = apologyFor(err)
		res.Source = dialog.SourceError
	} else {
		res.Text = comp.Text
		res.Usage = comp.Usage
	}

	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleUser, Text: question})
	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleBot, Text: res.Text})
	return res
}

// routePattern consults only the pattern engine. No-match answers with
// the placeholder rather than an error.
func (r *Router) routePattern(ctx context.Context, question, sessionID string) *dialog.Result {
	res := &dialog.Result{Source: dialog.SourcePattern}
	out, err := r.pattern.Match(ctx, question, sessionID)
	switch {
	case err != nil:
		r.logger.Warn("pattern match failed",
			zap.String("session_id", sessionID), zap.Error(err))
		res.Text = apologyText
		res.Source = dialog.SourceError
	case !out.Matched:
		res.Text = placeholderReply
		res.Source = dialog.SourceNoMatch
	default:
		res.Text = out.Text
	}

	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleUser, Text: question})
	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleBot, Text: res.Text})
	return res
}

// routeHybrid tries the pattern engine first, lets the override layer
// adjust the outcome against recent context, and falls back to the
// generative service on no-match. The fallback records the user turn
// and a placeholder bot turn up front, then revises the placeholder in
// place once the completion (or its apology) is known. That revision is
// the one sanctioned in-place edit of history.
func (r *Router) routeHybrid(ctx context.Context, question, sessionID string) *dialog.Result {
	hist := r.turns(ctx, sessionID)

	out, err := r.pattern.Match(ctx, question, sessionID)
	if err != nil {
		r.logger.Warn("pattern match failed, falling back",
			zap.String("session_id", sessionID), zap.Error(err))
		out = pattern.Outcome{}
	}
	out = r.overrides.Adjust(question, hist, out)

	if out.Matched {
		res := &dialog.Result{Text: out.Text, Source: dialog.SourcePattern}
		r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleUser, Text: question})
		r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleBot, Text: res.Text})
		return res
	}

	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleUser, Text: question})
	r.append(ctx, sessionID, dialog.Turn{Role: dialog.RoleBot, Text: placeholderReply})

	res := &dialog.Result{Source: dialog.SourceFallback}
	comp, err := r.complete(ctx, question, hist)
	if err != nil {
		r.logger.Warn("hybrid fallback completion failed",
			zap.String("session_id", sessionID), zap.Error(err))
		res.Text = apologyFor(err)
		res.Source = dialog.SourceError
	} else {
		res.Text = comp.Text
		res.Usage = comp.Usage
	}

	if err := r.history.ReplaceLast(ctx, sessionID, dialog.Turn{Role: dialog.RoleBot, Text: res.Text}); err != nil {
		r.logger.Warn("history replace failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return res
}

func (r *Router) complete(ctx context.Context, question string, hist []dialog.Turn) (*generative.Completion, error) {
	if r.generative == nil {
		return nil, &generative.ServiceError{
			Kind: generative.KindUpstream,
			Err:  errors.New("generative service not configured"),
		}
	}
	return r.generative.Complete(ctx, question, hist)
}

func (r *Router) turns(ctx context.Context, sessionID string) []dialog.Turn {
	hist, err := r.history.Get(ctx, sessionID)
	if err != nil {
		r.logger.Warn("history read failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return hist
}

func (r *Router) append(ctx context.Context, sessionID string, turn dialog.Turn) {
	if err := r.history.Append(ctx, sessionID, turn); err != nil {
		r.logger.Warn("history append failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// apologyFor picks the apology wording for a failed completion. The
// underlying error text never reaches the user.
func apologyFor(err error) string {
	var svcErr *generative.ServiceError
	if errors.As(err, &svcErr) && svcErr.Kind == generative.KindTimeout {
		return timeoutApologyText
	}
	return apologyText
}
