package identity

import (
	"context"
	"time"
)

// CreateUserInput is an already-hashed registration. Email must be
// normalized; the store enforces its uniqueness.
type CreateUserInput struct {
	ID           string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the identity persistence boundary. Every backend must implement
// the same semantics:
//
//   - missing users and groups are NotFoundError{Resource: "user"|"group"};
//   - a taken email is ConflictError{Field: "email"};
//   - ActivateUser on an active user is an OpError of kind ErrConflict;
//   - SetUserGroup checks group existence atomically with the write and
//     refuses inactive users with ErrNotActive;
//   - DeactivateUser also clears the group;
//   - DeleteUser is idempotent.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (UserRecord, error)
	ActivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error)
	DeactivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	DeleteUser(ctx context.Context, userID string) error

	// CreateGroup allocates a fresh group id from a monotonic sequence.
	CreateGroup(ctx context.Context, now time.Time) (int64, error)
	GroupExists(ctx context.Context, groupID int64) (bool, error)
	// GroupByMemberEmail resolves the group of the user with the given email.
	// A known user without a group yields NotFoundError{Resource: "group"}.
	GroupByMemberEmail(ctx context.Context, email string) (int64, error)
	SetUserGroup(ctx context.Context, userID string, groupID int64, now time.Time) (UserRecord, error)
	ClearUserGroup(ctx context.Context, userID string, now time.Time) (UserRecord, error)
}
