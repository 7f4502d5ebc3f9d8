package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")

	// ErrInvalidHash reports a stored hash that cannot be parsed or whose
	// parameters are out of bounds.
	ErrInvalidHash = errors.New("invalid password hash")

	// ErrInvalidParams reports an unusable Argon2id configuration. It is a
	// startup error, never a per-request one.
	ErrInvalidParams = errors.New("invalid argon2id parameters")
)
