package identity

import "errors"

// Sentinel error kinds. They are stable for errors.Is and map onto API status
// codes at the HTTP boundary.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrNotActive    = errors.New("not_active")

	// ErrPassword is a credential mismatch or an unusable stored hash.
	ErrPassword = errors.New("password_error")
	// ErrRegistration means the identity is unknown or not yet activated.
	ErrRegistration = errors.New("registration_error")
	// ErrDuplicateEmail is returned by Register for a taken email.
	ErrDuplicateEmail = errors.New("duplicate_email")
	// ErrUnexpected covers persistence and infrastructure failures.
	ErrUnexpected = errors.New("unexpected_error")
)
