// Package expansion tracks which date descriptions each viewer has expanded.
//
// The state is UI affordance only. Losing an entry means the viewer sees
// everything collapsed; callers treat ErrMissingUser as "nothing cached".
package expansion

import (
	"errors"
	"slices"
	"sync"
)

// DefaultCapacity is the number of users kept before FIFO eviction starts.
const DefaultCapacity = 1000

var ErrMissingUser = errors.New("expansion: user not cached")

type entry struct {
	dates []string
	gen   uint64
}

// slot is a queue position. It is stale once its user has been popped or
// re-added under a newer generation.
type slot struct {
	userID string
	gen    uint64
}

// Cache is a bounded map from user id to expanded date ids with a FIFO
// eviction queue over users. One mutex covers the map and the queue, so an
// add and the eviction it triggers are atomic.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	queue    []slot
	nextGen  uint64
	onEvict  func(userID string)
}

type Option func(*Cache)

// WithOnEvict registers fn to run after a user is evicted for capacity. fn is
// called with the cache lock held and must not call back into the cache.
func WithOnEvict(fn func(userID string)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New returns a cache holding at most capacity users. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity: capacity,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Add appends dateID to userID's list, creating the entry and evicting the
// oldest live user when the cache is full.
func (c *Cache) Add(dateID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		c.nextGen++
		e = &entry{gen: c.nextGen}
		c.entries[userID] = e
		c.queue = append(c.queue, slot{userID: userID, gen: e.gen})
		c.evict()
	}
	e.dates = append(e.dates, dateID)
}

// evict runs with c.mu held.
func (c *Cache) evict() {
	for len(c.entries) > c.capacity && len(c.queue) > 0 {
		s := c.queue[0]
		c.queue[0] = slot{}
		c.queue = c.queue[1:]

		e, ok := c.entries[s.userID]
		if !ok || e.gen != s.gen {
			continue
		}
		delete(c.entries, s.userID)
		if c.onEvict != nil {
			c.onEvict(s.userID)
		}
	}

	// Pop and re-add churn leaves stale slots behind without evicting.
	if len(c.queue) > 2*c.capacity {
		c.queue = slices.DeleteFunc(c.queue, func(s slot) bool {
			e, ok := c.entries[s.userID]
			return !ok || e.gen != s.gen
		})
	}
}

// Remove drops dateID from userID's list. A date that is not listed is not an
// error.
func (c *Cache) Remove(dateID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return ErrMissingUser
	}
	e.dates = slices.DeleteFunc(e.dates, func(id string) bool { return id == dateID })
	return nil
}

func (c *Cache) Contains(dateID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return false, ErrMissingUser
	}
	return slices.Contains(e.dates, dateID), nil
}

// Reset empties userID's list but keeps the entry and its queue position.
func (c *Cache) Reset(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return ErrMissingUser
	}
	e.dates = e.dates[:0]
	return nil
}

// Pop removes userID's entry. Its queue slot goes stale and is skipped later.
func (c *Cache) Pop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len is the number of cached users.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Capacity() int { return c.capacity }
