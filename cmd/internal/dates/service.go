package dates

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"daters/cmd/identity"
	"daters/cmd/identity/ids"
	"daters/cmd/internal/groups"
)

// Repository is the date API available to handlers. Every method takes the
// acting user's id; the group is derived from it.
type Repository interface {
	Add(ctx context.Context, userID string, in NewDate) (Date, error)
	Get(ctx context.Context, userID, dateID string) (Date, error)
	GetAll(ctx context.Context, userID string) ([]Date, error)
	Update(ctx context.Context, userID, dateID string, p Patch) (Date, error)
	Increment(ctx context.Context, userID, dateID string) (Date, error)
	Decrement(ctx context.Context, userID, dateID string) (Date, error)
	Remove(ctx context.Context, userID, dateID string) error
	CheckUserHasAccess(ctx context.Context, userID string) (bool, error)
}

// Membership resolves users to groups. groups.Service implements it.
type Membership interface {
	CurrentGroup(ctx context.Context, userID string) (int64, error)
	CheckUserHasAccess(ctx context.Context, userID string) (bool, error)
}

// Notifier is told which group's dates changed.
type Notifier interface {
	DatesChanged(groupID int64)
}

// Service implements Repository over a Store.
type Service struct {
	members Membership
	store   Store
	notify  Notifier
	log     *slog.Logger
	now     func() time.Time
}

var _ Repository = (*Service)(nil)

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

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

func NewService(members Membership, store Store, opts ...Option) *Service {
	s := &Service{
		members: members,
		store:   store,
		log:     slog.New(slog.DiscardHandler),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// scope is a user bound to the group resolved for this call.
type scope struct {
	userID  string
	groupID int64
}

func (s *Service) scope(ctx context.Context, op, userID string) (scope, error) {
	gid, err := s.members.CurrentGroup(ctx, userID)
	switch {
	case err == nil:
		return scope{userID: userID, groupID: gid}, nil
	case errors.Is(err, groups.ErrNoGroup):
		return scope{}, identity.OpError{Op: op, Kind: ErrGroupMembership, Msg: "user has no group"}
	case identity.IsRegistration(err):
		return scope{}, identity.OpError{Op: op, Kind: ErrNoAccess, Err: err}
	default:
		return scope{}, QueryError{Op: op, Err: err}
	}
}

func (s *Service) Add(ctx context.Context, userID string, in NewDate) (Date, error) {
	const op = "dates.Add"

	name, ok := cleanName(in.Name)
	if !ok {
		return Date{}, errInvalid("name must be 1-200 characters")
	}
	text, ok := cleanText(in.Text)
	if !ok {
		return Date{}, errInvalid("description too long")
	}

	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return Date{}, err
	}

	now := s.now()
	id, err := ids.New(now)
	if err != nil {
		return Date{}, QueryError{Op: op, Err: err}
	}
	d := Date{
		ID:          id,
		Name:        name,
		Description: Description{Text: text, Status: StatusSuggested},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Day != nil {
		day := truncateDay(*in.Day)
		d.Description.Day = &day
	}

	if err := s.store.Insert(ctx, sc.userID, sc.groupID, d); err != nil {
		return Date{}, s.storeErr(op, err)
	}

	s.log.Info("dates.add.ok", "user_id", userID, "group_id", sc.groupID, "date_id", d.ID)
	s.changed(sc)
	return d, nil
}

func (s *Service) Get(ctx context.Context, userID, dateID string) (Date, error) {
	const op = "dates.Get"

	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return Date{}, err
	}
	d, err := s.store.Get(ctx, sc.userID, sc.groupID, dateID)
	if err != nil {
		return Date{}, s.storeErr(op, err)
	}
	return d, nil
}

func (s *Service) GetAll(ctx context.Context, userID string) ([]Date, error) {
	const op = "dates.GetAll"

	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	ds, err := s.store.List(ctx, sc.userID, sc.groupID)
	if err != nil {
		return nil, s.storeErr(op, err)
	}
	return ds, nil
}

func (s *Service) Update(ctx context.Context, userID, dateID string, p Patch) (Date, error) {
	const op = "dates.Update"

	// Validate before touching storage.
	if err := p.apply(&Date{}); err != nil {
		return Date{}, err
	}

	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return Date{}, err
	}
	d, err := s.store.Modify(ctx, sc.userID, sc.groupID, dateID, p.apply)
	if err != nil {
		return Date{}, s.storeErr(op, err)
	}

	s.log.Info("dates.update.ok", "user_id", userID, "group_id", sc.groupID, "date_id", dateID)
	s.changed(sc)
	return d, nil
}

func (s *Service) Increment(ctx context.Context, userID, dateID string) (Date, error) {
	return s.adjust(ctx, "dates.Increment", userID, dateID, 1)
}

// Decrement lowers the count by one; a count of zero stays zero.
func (s *Service) Decrement(ctx context.Context, userID, dateID string) (Date, error) {
	return s.adjust(ctx, "dates.Decrement", userID, dateID, -1)
}

func (s *Service) adjust(ctx context.Context, op, userID, dateID string, delta int64) (Date, error) {
	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return Date{}, err
	}
	d, err := s.store.AdjustCount(ctx, sc.userID, sc.groupID, dateID, delta)
	if err != nil {
		return Date{}, s.storeErr(op, err)
	}
	s.changed(sc)
	return d, nil
}

func (s *Service) Remove(ctx context.Context, userID, dateID string) error {
	const op = "dates.Remove"

	sc, err := s.scope(ctx, op, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sc.userID, sc.groupID, dateID); err != nil {
		return s.storeErr(op, err)
	}

	s.log.Info("dates.remove.ok", "user_id", userID, "group_id", sc.groupID, "date_id", dateID)
	s.changed(sc)
	return nil
}

// CheckUserHasAccess reports whether userID exists. It does not imply group
// membership.
func (s *Service) CheckUserHasAccess(ctx context.Context, userID string) (bool, error) {
	ok, err := s.members.CheckUserHasAccess(ctx, userID)
	if err != nil {
		return false, QueryError{Op: "dates.CheckUserHasAccess", Err: err}
	}
	return ok, nil
}

// storeErr keeps contract errors and wraps everything else as a QueryError.
func (s *Service) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrGroupMembership),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidInput):
		return err
	}
	s.log.Error("dates.query.fail", "op", op, "err", err)
	return QueryError{Op: op, Err: err}
}

func (s *Service) changed(sc scope) {
	if s.notify != nil {
		s.notify.DatesChanged(sc.groupID)
	}
}
