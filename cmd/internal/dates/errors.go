package dates

import (
	"errors"
	"fmt"

	"daters/cmd/identity"
)

var (
	// ErrGroupMembership means the acting user has no group (or lost it
	// mid-operation). Callers prompt to join a group instead of failing
	// generically.
	ErrGroupMembership = errors.New("group_membership")
	// ErrNoAccess means the acting user does not exist or is not activated.
	ErrNoAccess = errors.New("no_access")
	// ErrNotFound means no such date in the caller's group. Dates of other
	// groups are reported the same way.
	ErrNotFound     = errors.New("date_not_found")
	ErrInvalidInput = identity.ErrInvalidInput
)

// QueryError wraps a persistence failure.
type QueryError struct {
	Op  string
	Err error
}

func (e QueryError) Error() string { return fmt.Sprintf("%s: query failed: %v", e.Op, e.Err) }
func (e QueryError) Unwrap() error { return e.Err }

func errInvalid(msg string) error {
	return identity.OpError{Op: "dates.validate", Kind: ErrInvalidInput, Msg: msg}
}

func IsGroupMembership(err error) bool { return errors.Is(err, ErrGroupMembership) }

func IsQuery(err error) bool {
	var qe QueryError
	return errors.As(err, &qe)
}
