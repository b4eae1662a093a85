package realtime

import (
	"sync"

	"conectazap/internal/domain"
)

// subscriberBuffer bounds how far a slow consumer may lag. Snapshots are
// full-list updates, so dropping an old one in favor of a newer one loses
// nothing.
const subscriberBuffer = 8

// Hub fans conversation-list snapshots out to session subscribers, keyed by
// agent: a snapshot reaches only the owning agent's connections. Each update
// is a full snapshot, so a subscriber that misses intermediate updates still
// converges on the latest state.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan []domain.Conversation
	nextID int
}

// Subscription is a cancellable handle to one agent's snapshot feed.
type Subscription struct {
	C      <-chan []domain.Conversation
	cancel func()
}

// Cancel stops the feed and releases the subscriber slot. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan []domain.Conversation)}
}

// Subscribe registers a new snapshot consumer for the given agent.
func (h *Hub) Subscribe(agentID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan []domain.Conversation, subscriberBuffer)
	if h.subs[agentID] == nil {
		h.subs[agentID] = make(map[int]chan []domain.Conversation)
	}
	h.subs[agentID][id] = ch

	var once sync.Once
	return &Subscription{
		C: ch,
		cancel: func() {
			once.Do(func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				if c, ok := h.subs[agentID][id]; ok {
					delete(h.subs[agentID], id)
					if len(h.subs[agentID]) == 0 {
						delete(h.subs, agentID)
					}
					close(c)
				}
			})
		},
	}
}

// Broadcast delivers a snapshot to every subscriber of the given agent and
// no one else. A subscriber whose buffer is full has its oldest pending
// snapshot evicted first; delivery never blocks the caller.
func (h *Hub) Broadcast(agentID string, snapshot []domain.Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[agentID] {
		select {
		case ch <- snapshot:
		default:
			// Evict the oldest pending snapshot, then try once more.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// Subscribers reports the current subscriber count for an agent.
func (h *Hub) Subscribers(agentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[agentID])
}
