package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cludelabs/clude/internal/tool"
)

// minCleanupInterval bounds the eviction ticker.
const minCleanupInterval = time.Millisecond

// Session is the per-conversation state bundle.
type Session struct {
	ID       string
	Messages *MessageStore
	Cache    *tool.Cache
	LastUsed time.Time
}

// Store is a thread-safe in-memory session registry with TTL eviction.
// Single-process by design; each session's state is only ever mutated by
// the turn running on it.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	ttl        time.Duration
	maxHistory int
	done       chan struct{}
}

// NewStore creates a store and starts the eviction goroutine. Call Close
// to stop it.
func NewStore(ttl time.Duration, maxHistory int) *Store {
	if ttl < minCleanupInterval {
		ttl = minCleanupInterval
	}
	s := &Store{
		sessions:   make(map[string]*Session),
		ttl:        ttl,
		maxHistory: maxHistory,
		done:       make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// GetOrCreate returns the session for id, creating it on first use. An
// empty id allocates a fresh session with a generated id.
func (s *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{
			ID:       id,
			Messages: NewMessageStore(s.maxHistory),
			Cache:    tool.NewCache(),
		}
		s.sessions[id] = sess
	}
	sess.LastUsed = time.Now()
	return sess
}

// Touch refreshes a session's TTL clock.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastUsed = time.Now()
	}
}

// End removes a session, clearing its cache.
func (s *Store) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Cache.Clear()
		delete(s.sessions, id)
	}
}

// Len returns the live session count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.LastUsed.Before(cutoff) {
			sess.Cache.Clear()
			delete(s.sessions, id)
			log.Printf("[Session] Evicted idle session %s", id)
		}
	}
}

// Close stops the eviction goroutine.
func (s *Store) Close() {
	close(s.done)
}
