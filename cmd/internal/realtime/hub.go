package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Hub fans events out to the subscribers of one group. A client is only
// ever registered under the group resolved for it at connect time.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu     sync.RWMutex
	groups map[int64]map[string]*Client

	dropped atomic.Uint64
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		groups: make(map[int64]map[string]*Client),
	}
}

func (h *Hub) Subscribe(c *Client) {
	if c == nil || c.ID == "" {
		return
	}

	h.mu.Lock()
	g := h.groups[c.GroupID]
	if g == nil {
		g = make(map[string]*Client)
		h.groups[c.GroupID] = g
	}
	g[c.ID] = c
	h.mu.Unlock()

	h.log.Info("feed.subscribe", "client_id", c.ID, "user_id", c.UserID, "group_id", c.GroupID)
}

// Unsubscribe removes c and then closes it, so no publisher still holds it
// when its goroutines stop.
func (h *Hub) Unsubscribe(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	if g := h.groups[c.GroupID]; g != nil {
		delete(g, c.ID)
		if len(g) == 0 {
			delete(h.groups, c.GroupID)
		}
	}
	h.mu.Unlock()

	c.Close()
	h.log.Info("feed.unsubscribe", "client_id", c.ID, "group_id", c.GroupID)
}

// Publish never blocks. A subscriber whose queue is full misses the event;
// the next one tells it the same thing.
func (h *Hub) Publish(groupID int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.groups[groupID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// DatesChanged satisfies dates.Notifier.
func (h *Hub) DatesChanged(groupID int64) {
	h.Publish(groupID, Event{Type: TypeDatesChanged, GroupID: groupID, TS: h.now()})
}

// Subscribers is the number of live clients in groupID.
func (h *Hub) Subscribers(groupID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}

// Connections is the number of live clients across all groups.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, g := range h.groups {
		n += len(g)
	}
	return n
}

// Dropped counts events skipped because a subscriber queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
