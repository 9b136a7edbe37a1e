package rag

import (
	"container/list"
	"sync"

	"github.com/stratumhq/stratum/internal/domain"
)

// sessionCapacity bounds how many turns are retained per session (§4.7
// "Session memory").
const sessionCapacity = 10

// maxSessions bounds how many distinct sessions are retained; the least
// recently used session is evicted once this cap is exceeded.
const maxSessions = 1000

// sessionStore is an in-process, LRU-bounded map of session id to its
// recent chat turns. A mutex guards the pointer-sized map/list operations
// only; callers own their own turn slices once retrieved.
type sessionStore struct {
	mu      sync.Mutex
	order   *list.List // front = most recently used; elements are session ids
	elems   map[string]*list.Element
	history map[string][]domain.ChatMessage
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		order:   list.New(),
		elems:   make(map[string]*list.Element),
		history: make(map[string][]domain.ChatMessage),
	}
}

// Recent returns a copy of the last n turns for id, oldest first.
func (s *sessionStore) Recent(id string, n int) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.history[id]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]domain.ChatMessage, len(turns))
	copy(out, turns)
	return out
}

// Append adds msg to id's history, trimming to sessionCapacity and
// touching id as most recently used. If adding a brand new session would
// exceed maxSessions, the least recently used session is evicted first.
func (s *sessionStore) Append(id string, msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elems[id]; !ok {
		if len(s.elems) >= maxSessions {
			s.evictOldest()
		}
		s.elems[id] = s.order.PushFront(id)
	} else {
		s.order.MoveToFront(s.elems[id])
	}

	turns := append(s.history[id], msg)
	if len(turns) > sessionCapacity {
		turns = turns[len(turns)-sessionCapacity:]
	}
	s.history[id] = turns
}

func (s *sessionStore) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.order.Remove(back)
	delete(s.elems, id)
	delete(s.history, id)
}
