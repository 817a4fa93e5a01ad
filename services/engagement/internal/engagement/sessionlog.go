package engagement

import (
	"container/list"
	"sync"
	"time"
)

const (
	SessionLogCapacity = 100
	DefaultMaxSessions = 10000
)

// SessionEntry is one thing the user just did.
type SessionEntry struct {
	Action    string    `json:"action"`
	PostID    string    `json:"post_id,omitempty"`
	CommentID string    `json:"comment_id,omitempty"`
	At        time.Time `json:"at"`
}

// Ring is a fixed capacity buffer that overwrites its oldest entry when full.
type Ring struct {
	buf  []SessionEntry
	next int
	full bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = SessionLogCapacity
	}
	return &Ring{buf: make([]SessionEntry, capacity)}
}

func (r *Ring) Add(e SessionEntry) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Newest returns the entries newest first.
func (r *Ring) Newest() []SessionEntry {
	n := r.Len()
	out := make([]SessionEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}

type sessionItem struct {
	id   string
	ring *Ring
}

// Sessions keeps one Ring per session id. The least recently used session is
// evicted once maxSessions is reached.
type Sessions struct {
	mu          sync.Mutex
	capacity    int
	maxSessions int
	order       *list.List
	items       map[string]*list.Element
}

func NewSessions(capacity, maxSessions int) *Sessions {
	if capacity <= 0 {
		capacity = SessionLogCapacity
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Sessions{
		capacity:    capacity,
		maxSessions: maxSessions,
		order:       list.New(),
		items:       make(map[string]*list.Element),
	}
}

func (s *Sessions) Record(sessionID string, e SessionEntry) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[sessionID]; ok {
		s.order.MoveToFront(el)
		el.Value.(*sessionItem).ring.Add(e)
		return
	}
	if s.order.Len() >= s.maxSessions {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*sessionItem).id)
	}
	item := &sessionItem{id: sessionID, ring: NewRing(s.capacity)}
	item.ring.Add(e)
	s.items[sessionID] = s.order.PushFront(item)
}

// Recent returns the session's entries newest first.
func (s *Sessions) Recent(sessionID string) []SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[sessionID]
	if !ok {
		return []SessionEntry{}
	}
	s.order.MoveToFront(el)
	return el.Value.(*sessionItem).ring.Newest()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// SessionActivity returns what the session did recently, newest first.
func (s *Service) SessionActivity(sessionID string) []SessionEntry {
	if s.sessions == nil {
		return []SessionEntry{}
	}
	return s.sessions.Recent(sessionID)
}
