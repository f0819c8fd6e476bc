package engine

import (
	"sync"

	"taskline/internal/domain"
)

const DefaultHistoryCapacity = 10

// Conversation is the bounded FIFO history of one user's exchanges. It is
// the only state that outlives a single query.
type Conversation struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.HistoryEntry
}

func NewConversation(capacity int) *Conversation {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Conversation{capacity: capacity}
}

// Append adds an entry, evicting the oldest once capacity is reached.
func (c *Conversation) Append(e domain.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity <= 0 {
		c.capacity = DefaultHistoryCapacity
	}
	c.entries = append(c.entries, e)
	if over := len(c.entries) - c.capacity; over > 0 {
		c.entries = append([]domain.HistoryEntry(nil), c.entries[over:]...)
	}
}

// Entries returns a copy, oldest first.
func (c *Conversation) Entries() []domain.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.HistoryEntry(nil), c.entries...)
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Conversations hands out one Conversation per actor.
type Conversations struct {
	mu       sync.Mutex
	capacity int
	byActor  map[string]*Conversation
}

func NewConversations(capacity int) *Conversations {
	return &Conversations{capacity: capacity, byActor: map[string]*Conversation{}}
}

func (cs *Conversations) For(actorID string) *Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.byActor == nil {
		cs.byActor = map[string]*Conversation{}
	}
	conv, ok := cs.byActor[actorID]
	if !ok {
		conv = NewConversation(cs.capacity)
		cs.byActor[actorID] = conv
	}
	return conv
}
