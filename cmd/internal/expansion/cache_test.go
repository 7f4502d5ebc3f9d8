package expansion

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCache_FIFOEviction(t *testing.T) {
	t.Parallel()

	c := New(2)
	c.Add("d1", "u1")
	c.Add("d2", "u2")
	c.Add("d3", "u3")

	if _, err := c.Contains("d1", "u1"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("u1 should be evicted, got %v", err)
	}
	for _, tc := range []struct{ date, user string }{{"d2", "u2"}, {"d3", "u3"}} {
		ok, err := c.Contains(tc.date, tc.user)
		if err != nil || !ok {
			t.Fatalf("Contains(%s, %s) = %v, %v", tc.date, tc.user, ok, err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}

func TestCache_CapacityPlusOne(t *testing.T) {
	t.Parallel()

	const n = 50
	var evicted []string
	c := New(n, WithOnEvict(func(u string) { evicted = append(evicted, u) }))

	for i := 0; i <= n; i++ {
		c.Add("d", fmt.Sprintf("u%d", i))
	}
	if c.Len() != n {
		t.Fatalf("Len = %d, want %d", c.Len(), n)
	}
	if len(evicted) != 1 || evicted[0] != "u0" {
		t.Fatalf("evicted = %v, want [u0]", evicted)
	}
}

func TestCache_ExistingUserKeepsQueuePosition(t *testing.T) {
	t.Parallel()

	c := New(2)
	c.Add("d1", "u1")
	c.Add("d2", "u2")
	c.Add("d3", "u1")
	c.Add("d4", "u3")

	if _, err := c.Contains("d1", "u1"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("u1 is oldest and should be evicted, got %v", err)
	}
}

func TestCache_StaleSlotsAreSkipped(t *testing.T) {
	t.Parallel()

	c := New(2)
	c.Add("d1", "u1")
	c.Pop("u1")
	c.Add("d2", "u2")
	c.Add("d3", "u1") // fresh slot behind u2
	c.Add("d4", "u3")

	// The stale u1 slot is skipped; u2 is the oldest live entry.
	if _, err := c.Contains("d2", "u2"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("u2 should be evicted, got %v", err)
	}
	if ok, err := c.Contains("d3", "u1"); err != nil || !ok {
		t.Fatalf("re-added u1 must survive: %v, %v", ok, err)
	}
	if ok, err := c.Contains("d1", "u1"); err != nil || ok {
		t.Fatalf("popped list must not come back: %v, %v", ok, err)
	}
}

func TestCache_PopChurnStaysBounded(t *testing.T) {
	t.Parallel()

	c := New(3)
	for i := 0; i < 1000; i++ {
		c.Add("d", "u")
		c.Pop("u")
	}
	c.Add("d", "u")

	c.mu.Lock()
	q := len(c.queue)
	c.mu.Unlock()
	if q > 2*c.Capacity()+1 {
		t.Fatalf("queue grew to %d", q)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestCache_RemoveResetPop(t *testing.T) {
	t.Parallel()

	c := New(0)
	if c.Capacity() != DefaultCapacity {
		t.Fatalf("Capacity = %d", c.Capacity())
	}

	for _, err := range []error{c.Remove("d", "nobody"), c.Reset("nobody")} {
		if !errors.Is(err, ErrMissingUser) {
			t.Fatalf("expected ErrMissingUser, got %v", err)
		}
	}

	c.Add("d1", "u")
	c.Add("d2", "u")
	if err := c.Remove("missing", "u"); err != nil {
		t.Fatalf("Remove of absent date: %v", err)
	}
	if err := c.Remove("d1", "u"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := c.Contains("d1", "u"); ok {
		t.Fatalf("d1 still expanded after Remove")
	}
	if ok, _ := c.Contains("d2", "u"); !ok {
		t.Fatalf("d2 lost by removing d1")
	}

	if err := c.Reset("u"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, err := c.Contains("d2", "u"); err != nil || ok {
		t.Fatalf("after Reset: %v, %v", ok, err)
	}
	if c.Len() != 1 {
		t.Fatalf("Reset must keep the entry")
	}

	c.Pop("u")
	c.Pop("u")
	if _, err := c.Contains("d2", "u"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("after Pop: %v", err)
	}
}

func TestCache_ConcurrentAddsRespectCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 16
	c := New(capacity)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				user := fmt.Sprintf("w%d-u%d", w, i%40)
				c.Add(fmt.Sprintf("d%d", i), user)
				_, _ = c.Contains("d0", user)
				if i%7 == 0 {
					c.Pop(user)
				}
				if n := c.Len(); n > capacity {
					t.Errorf("Len = %d exceeds capacity", n)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}
