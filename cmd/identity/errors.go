package identity

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel kinds. Err, when set, is the underlying cause
// and stays reachable through errors.Is/As. Msg must never carry secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConflictError reports a uniqueness conflict on a logical field ("email").
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row or referenced resource ("user", "group").
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// MissingResource returns the Resource of the first NotFoundError in err's
// chain, or "" when there is none.
func MissingResource(err error) string {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return nf.Resource
	}
	return ""
}

func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce) || errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsNotActive(err error) bool    { return errors.Is(err, ErrNotActive) }
func IsPassword(err error) bool     { return errors.Is(err, ErrPassword) }
func IsRegistration(err error) bool { return errors.Is(err, ErrRegistration) }
func IsUnexpected(err error) bool   { return errors.Is(err, ErrUnexpected) }

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func unexpected(op string, err error) error {
	return OpError{Op: op, Kind: ErrUnexpected, Err: err}
}
