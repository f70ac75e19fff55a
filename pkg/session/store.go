// Package session keeps the per-session document context and chat history.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
)

const DefaultMaxHistory = 50

// Session is one conversation about one uploaded document.
type Session struct {
	ID        string
	CreatedAt time.Time

	// turn serialises chat turns of this session.
	turn sync.Mutex

	mu        sync.RWMutex
	context   *types.DocumentContext
	history   []models.Message
	updatedAt time.Time
}

// Context returns the document context the session answers questions about.
func (s *Session) Context() *types.DocumentContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

// History returns a copy of the chat history, oldest first.
func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.history...)
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Do runs fn while holding the session's turn lock, so that concurrent
// messages for the same session are answered one after another.
func (s *Session) Do(fn func() error) error {
	s.turn.Lock()
	defer s.turn.Unlock()
	return fn()
}

// detach unbinds a session that has left the store. Holders of the stale
// *Session can no longer record turns on it.
func (s *Session) detach() *types.DocumentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.context
	s.context = nil
	s.history = nil
	return doc
}

type StoreConfig struct {
	MaxHistory int

	// OnRelease is called, outside any lock, with every document context
	// that is no longer reachable from the store.
	OnRelease func(*types.DocumentContext)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is a concurrency-safe map of sessions.
type Store struct {
	config StoreConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore(config StoreConfig) *Store {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultMaxHistory
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{config: config, sessions: make(map[string]*Session)}
}

// CreateOrReplace binds doc to session id, creating the session when needed.
// An empty id allocates a fresh one. Replacing the context of an existing
// session also clears its history. The id actually used is returned.
func (st *Store) CreateOrReplace(id string, doc *types.DocumentContext) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document context", types.ErrInvalidArgument)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := st.config.Now()

	// The context is bound while the map lock is held so that a concurrent
	// Delete either sees the new context or removes the session first.
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{ID: id, CreatedAt: now}
		st.sessions[id] = s
	}
	s.mu.Lock()
	old := s.context
	s.context = doc
	s.history = nil
	s.updatedAt = now
	s.mu.Unlock()
	st.mu.Unlock()

	if old != nil && old != doc {
		st.release(old)
	}
	return id, nil
}

// Get returns the session with id, or types.ErrSessionNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrSessionNotFound, id)
	}
	return s, nil
}

// AppendTurn records one completed question/answer pair.
func (st *Store) AppendTurn(id, user, assistant string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context == nil {
		return fmt.Errorf("%w: %q", types.ErrSessionNotFound, id)
	}
	st.appendLocked(s, user, assistant)
	return nil
}

// RecordTurn appends a turn to s only if s is still live and still bound to
// doc, the context the turn was answered from. It reports whether the turn
// was recorded.
func (st *Store) RecordTurn(s *Session, doc *types.DocumentContext, user, assistant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil || s.context != doc {
		return false
	}
	st.appendLocked(s, user, assistant)
	return true
}

func (st *Store) appendLocked(s *Session, user, assistant string) {
	now := st.config.Now()
	s.history = append(s.history,
		models.Message{Role: models.RoleHuman, Content: user, Time: now},
		models.Message{Role: models.RoleAI, Content: assistant, Time: now},
	)
	if over := len(s.history) - st.config.MaxHistory; over > 0 {
		s.history = append([]models.Message(nil), s.history[over:]...)
	}
	s.updatedAt = now
}

// Delete removes a session and releases its context.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", types.ErrSessionNotFound, id)
	}
	if doc := s.detach(); doc != nil {
		st.release(doc)
	}
	return nil
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictIdle removes sessions not updated within ttl of now and returns how
// many were removed.
func (st *Store) EvictIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	var evicted []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if now.Sub(s.UpdatedAt()) > ttl {
			delete(st.sessions, id)
			evicted = append(evicted, s)
		}
	}
	st.mu.Unlock()

	for _, s := range evicted {
		if doc := s.detach(); doc != nil {
			st.release(doc)
		}
	}
	return len(evicted)
}

// Close releases every session.
func (st *Store) Close() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range sessions {
		if doc := s.detach(); doc != nil {
			st.release(doc)
		}
	}
}

func (st *Store) release(doc *types.DocumentContext) {
	if st.config.OnRelease != nil {
		st.config.OnRelease(doc)
	}
}
