package dates

import "context"

// Store persists dates tagged with their group. Every method carries the
// acting user's id alongside the group id, and a backend applies the
// operation only while that user is still a member of the group. Failing the
// membership check yields ErrGroupMembership; a date missing from the group
// yields ErrNotFound.
//
// Only Service talks to a Store.
type Store interface {
	Insert(ctx context.Context, userID string, groupID int64, d Date) error
	Get(ctx context.Context, userID string, groupID int64, dateID string) (Date, error)
	// List returns the group's dates by count descending, then creation.
	List(ctx context.Context, userID string, groupID int64) ([]Date, error)
	// AdjustCount adds delta to the count, clamping at zero.
	AdjustCount(ctx context.Context, userID string, groupID int64, dateID string, delta int64) (Date, error)
	// Modify runs fn on the current row and persists the result atomically.
	Modify(ctx context.Context, userID string, groupID int64, dateID string, fn func(*Date) error) (Date, error)
	Delete(ctx context.Context, userID string, groupID int64, dateID string) error
}
