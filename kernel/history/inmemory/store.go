// Package inmemory provides a bounded, thread-safe in-memory history store.
//
// Sessions are evicted least-recently-used once the session cap is reached,
// and each session keeps at most MaxTurns turns, dropping the oldest first.
package inmemory

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
)

const (
	defaultMaxSessions = 1024
	defaultMaxTurns    = 200
)

// Options configures store bounds. Zero values select the defaults.
type Options struct {
	// MaxSessions caps how many sessions are retained before LRU eviction.
	MaxSessions int
	// MaxTurns caps the log length per session; older turns are dropped.
	MaxTurns int
}

type sessionLog struct {
	mu    sync.Mutex
	turns []dialog.Turn
}

// Store is a bounded in-memory history store.
type Store struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *sessionLog]
	maxTurns int
}

func New() *Store {
	s, _ := NewWithOptions(Options{})
	return s
}

func NewWithOptions(options Options) (*Store, error) {
	maxSessions := options.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	maxTurns := options.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	sessions, err := lru.New[string, *sessionLog](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{sessions: sessions, maxTurns: maxTurns}, nil
}

// getOrCreate resolves the session entry under the store lock. Log
// mutation happens under the per-session lock so turns on different
// sessions do not block each other.
func (s *Store) getOrCreate(sessionID string) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.sessions.Get(sessionID); ok {
		return log
	}
	log := &sessionLog{}
	s.sessions.Add(sessionID, log)
	return log
}

func (s *Store) Append(ctx context.Context, sessionID string, turn dialog.Turn) error {
	_ = ctx
	log := s.getOrCreate(sessionID)
	log.mu.Lock()
	defer log.mu.Unlock()
	log.turns = append(log.turns, turn)
	if len(log.turns) > s.maxTurns {
		overflow := len(log.turns) - s.maxTurns
		log.turns = append(log.turns[:0:0], log.turns[overflow:]...)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) ([]dialog.Turn, error) {
	_ = ctx
	s.mu.Lock()
	log, ok := s.sessions.Get(sessionID)
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	out := make([]dialog.Turn, len(log.turns))
	copy(out, log.turns)
	return out, nil
}

func (s *Store) ReplaceLast(ctx context.Context, sessionID string, turn dialog.Turn) error {
	_ = ctx
	s.mu.Lock()
	log, ok := s.sessions.Get(sessionID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.turns) == 0 {
		return nil
	}
	last := &log.turns[len(log.turns)-1]
	if last.Role != turn.Role {
		return nil
	}
	last.Text = turn.Text
	return nil
}
