// Package groups implements group creation and membership on top of the
// identity state machine.
//
// A user belongs to at most one group. Joining or creating a group while
// already in one performs an explicit leave first; the leave is logged as its
// own transition.
package groups

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"daters/cmd/identity"
)

var (
	ErrGroupNotFound  = errors.New("group_not_found")
	ErrPeerNotFound   = errors.New("peer_not_found")
	ErrPeerHasNoGroup = errors.New("peer_has_no_group")
	// ErrNoGroup means the acting user is active but in no group.
	ErrNoGroup = errors.New("no_group")
)

type Service struct {
	store identity.Store
	log   *slog.Logger
	now   func() time.Time
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store identity.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   slog.New(slog.DiscardHandler),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateGroup allocates a new group and makes userID its first member. The
// group is allocated before the old membership is dropped, so a failed
// allocation leaves the user where they were.
func (s *Service) CreateGroup(ctx context.Context, userID string) (identity.GroupUser, error) {
	const op = "groups.CreateGroup"

	u, err := s.authorized(ctx, op, userID)
	if err != nil {
		return identity.GroupUser{}, err
	}

	gid, err := s.store.CreateGroup(ctx, s.now())
	if err != nil {
		return identity.GroupUser{}, unexpected(op, err)
	}
	s.log.Info("groups.create.ok", "user_id", userID, "group_id", gid)

	if g, ok := u.(identity.GroupUser); ok {
		if _, err := s.leave(ctx, op, g, "replace"); err != nil {
			return identity.GroupUser{}, err
		}
	}
	return s.assign(ctx, op, userID, gid)
}

// JoinGroupByID binds userID to an existing group.
func (s *Service) JoinGroupByID(ctx context.Context, userID string, groupID int64) (identity.GroupUser, error) {
	return s.join(ctx, "groups.JoinGroupByID", userID, groupID)
}

// JoinGroupByEmail binds userID to the current group of the user with
// peerEmail.
func (s *Service) JoinGroupByEmail(ctx context.Context, userID, peerEmail string) (identity.GroupUser, error) {
	const op = "groups.JoinGroupByEmail"

	gid, err := s.store.GroupByMemberEmail(ctx, identity.NormalizeEmail(peerEmail))
	if err != nil {
		switch identity.MissingResource(err) {
		case "user":
			return identity.GroupUser{}, identity.OpError{Op: op, Kind: ErrPeerNotFound}
		case "group":
			return identity.GroupUser{}, identity.OpError{Op: op, Kind: ErrPeerHasNoGroup}
		}
		return identity.GroupUser{}, unexpected(op, err)
	}
	return s.join(ctx, op, userID, gid)
}

// LeaveGroup drops userID's group. Leaving while in no group is a no-op.
func (s *Service) LeaveGroup(ctx context.Context, userID string) (identity.NoGroupUser, error) {
	const op = "groups.LeaveGroup"

	u, err := s.authorized(ctx, op, userID)
	if err != nil {
		return identity.NoGroupUser{}, err
	}
	switch u := u.(type) {
	case identity.NoGroupUser:
		return u, nil
	case identity.GroupUser:
		return s.leave(ctx, op, u, "request")
	default:
		return identity.NoGroupUser{}, unexpected(op, errors.New("unhandled state"))
	}
}

// CheckUserHasAccess reports whether userID exists. It is a coarse gate and
// says nothing about group membership; date operations still scope by group.
func (s *Service) CheckUserHasAccess(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.GetUserByID(ctx, userID)
	if identity.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, unexpected("groups.CheckUserHasAccess", err)
	}
	return true, nil
}

// CurrentGroup resolves userID's group server-side. Unknown or inactive users
// fail with identity.ErrRegistration, users without a group with ErrNoGroup.
func (s *Service) CurrentGroup(ctx context.Context, userID string) (int64, error) {
	const op = "groups.CurrentGroup"

	u, err := s.authorized(ctx, op, userID)
	if err != nil {
		return 0, err
	}
	switch u := u.(type) {
	case identity.GroupUser:
		return u.GroupID, nil
	case identity.NoGroupUser:
		return 0, identity.OpError{Op: op, Kind: ErrNoGroup}
	default:
		return 0, unexpected(op, errors.New("unhandled state"))
	}
}

func (s *Service) join(ctx context.Context, op, userID string, groupID int64) (identity.GroupUser, error) {
	u, err := s.authorized(ctx, op, userID)
	if err != nil {
		return identity.GroupUser{}, err
	}

	exists, err := s.store.GroupExists(ctx, groupID)
	if err != nil {
		return identity.GroupUser{}, unexpected(op, err)
	}
	if !exists {
		return identity.GroupUser{}, identity.OpError{Op: op, Kind: ErrGroupNotFound}
	}

	if g, ok := u.(identity.GroupUser); ok {
		if g.GroupID == groupID {
			return g, nil
		}
		if _, err := s.leave(ctx, op, g, "replace"); err != nil {
			return identity.GroupUser{}, err
		}
	}
	return s.assign(ctx, op, userID, groupID)
}

// assign writes the membership. The store re-checks group existence in the
// same statement.
func (s *Service) assign(ctx context.Context, op, userID string, groupID int64) (identity.GroupUser, error) {
	rec, err := s.store.SetUserGroup(ctx, userID, groupID, s.now())
	switch {
	case err == nil:
	case identity.MissingResource(err) == "group":
		return identity.GroupUser{}, identity.OpError{Op: op, Kind: ErrGroupNotFound}
	case identity.MissingResource(err) == "user", identity.IsNotActive(err):
		return identity.GroupUser{}, identity.OpError{Op: op, Kind: identity.ErrRegistration, Err: err}
	default:
		return identity.GroupUser{}, unexpected(op, err)
	}

	g, ok := rec.State().(identity.GroupUser)
	if !ok {
		return identity.GroupUser{}, unexpected(op, errors.New("membership not persisted"))
	}
	s.log.Info("groups.join.ok", "user_id", userID, "group_id", groupID)
	return g, nil
}

func (s *Service) leave(ctx context.Context, op string, g identity.GroupUser, reason string) (identity.NoGroupUser, error) {
	rec, err := s.store.ClearUserGroup(ctx, g.ID, s.now())
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.NoGroupUser{}, identity.OpError{Op: op, Kind: identity.ErrRegistration, Err: err}
		}
		return identity.NoGroupUser{}, unexpected(op, err)
	}
	s.log.Info("groups.leave.ok", "user_id", g.ID, "group_id", g.GroupID, "reason", reason)

	ng, ok := rec.State().(identity.NoGroupUser)
	if !ok {
		return identity.NoGroupUser{}, unexpected(op, errors.New("user not active after leave"))
	}
	return ng, nil
}

// authorized loads userID and requires it to be activated.
func (s *Service) authorized(ctx context.Context, op, userID string) (identity.AuthorizedUser, error) {
	rec, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, identity.OpError{Op: op, Kind: identity.ErrRegistration, Msg: "unknown user", Err: err}
		}
		return nil, unexpected(op, err)
	}
	switch st := rec.State().(type) {
	case identity.NoGroupUser:
		return st, nil
	case identity.GroupUser:
		return st, nil
	case identity.Inactive:
		return nil, identity.OpError{Op: op, Kind: identity.ErrRegistration, Msg: "user not active"}
	default:
		return nil, unexpected(op, errors.New("unhandled state"))
	}
}

func unexpected(op string, err error) error {
	return identity.OpError{Op: op, Kind: identity.ErrUnexpected, Err: err}
}
