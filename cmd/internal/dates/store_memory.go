package dates

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"daters/cmd/identity"
)

// MemberCheck reports whether userID currently belongs to groupID.
type MemberCheck func(ctx context.Context, userID string, groupID int64) (bool, error)

// MemoryStore keeps dates per group in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	byGroup map[int64]map[string]Date
	member  MemberCheck
}

type MemoryOption func(*MemoryStore)

// WithMemberCheck makes the store re-check membership under its lock before
// every operation. Without it the store trusts the group id it is given.
func WithMemberCheck(fn MemberCheck) MemoryOption {
	return func(s *MemoryStore) { s.member = fn }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{byGroup: make(map[int64]map[string]Date)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// MembershipFromGroups adapts a CurrentGroup lookup to a MemberCheck.
func MembershipFromGroups(m Membership) MemberCheck {
	return func(ctx context.Context, userID string, groupID int64) (bool, error) {
		gid, err := m.CurrentGroup(ctx, userID)
		if err != nil {
			if identity.IsUnexpected(err) {
				return false, err
			}
			return false, nil
		}
		return gid == groupID, nil
	}
}

func (s *MemoryStore) Insert(ctx context.Context, userID string, groupID int64, d Date) error {
	const op = "dates.Insert"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMember(ctx, op, userID, groupID); err != nil {
		return err
	}
	g := s.byGroup[groupID]
	if g == nil {
		g = make(map[string]Date)
		s.byGroup[groupID] = g
	}
	if _, dup := g[d.ID]; dup {
		return identity.ConflictError{Op: op, Field: "id"}
	}
	g[d.ID] = d
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string, groupID int64, dateID string) (Date, error) {
	const op = "dates.Get"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMember(ctx, op, userID, groupID); err != nil {
		return Date{}, err
	}
	d, ok := s.byGroup[groupID][dateID]
	if !ok {
		return Date{}, notFound(op)
	}
	return d, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, groupID int64) ([]Date, error) {
	const op = "dates.List"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMember(ctx, op, userID, groupID); err != nil {
		return nil, err
	}
	out := make([]Date, 0, len(s.byGroup[groupID]))
	for _, d := range s.byGroup[groupID] {
		out = append(out, d)
	}
	sortRanking(out)
	return out, nil
}

func (s *MemoryStore) AdjustCount(ctx context.Context, userID string, groupID int64, dateID string, delta int64) (Date, error) {
	return s.Modify(ctx, userID, groupID, dateID, func(d *Date) error {
		for ; delta > 0; delta-- {
			d.Increment()
		}
		for ; delta < 0; delta++ {
			d.Decrement()
		}
		return nil
	})
}

func (s *MemoryStore) Modify(ctx context.Context, userID string, groupID int64, dateID string, fn func(*Date) error) (Date, error) {
	const op = "dates.Modify"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMember(ctx, op, userID, groupID); err != nil {
		return Date{}, err
	}
	d, ok := s.byGroup[groupID][dateID]
	if !ok {
		return Date{}, notFound(op)
	}
	if err := fn(&d); err != nil {
		return Date{}, err
	}
	d.UpdatedAt = time.Now().UTC()
	s.byGroup[groupID][dateID] = d
	return d, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string, groupID int64, dateID string) error {
	const op = "dates.Delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMember(ctx, op, userID, groupID); err != nil {
		return err
	}
	if _, ok := s.byGroup[groupID][dateID]; !ok {
		return notFound(op)
	}
	delete(s.byGroup[groupID], dateID)
	return nil
}

// checkMember runs with s.mu held.
func (s *MemoryStore) checkMember(ctx context.Context, op, userID string, groupID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.member == nil {
		return nil
	}
	ok, err := s.member(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "user left the group"}
	}
	return nil
}

func notFound(op string) error {
	return identity.OpError{Op: op, Kind: ErrNotFound}
}

func sortRanking(ds []Date) {
	slices.SortFunc(ds, func(a, b Date) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
