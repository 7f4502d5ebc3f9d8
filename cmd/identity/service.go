package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"daters/cmd/identity/ids"
	"daters/cmd/security/password"
	"daters/cmd/security/secret"
)

// PasswordHasher is the part of Hasher the service depends on.
type PasswordHasher interface {
	Hash(ctx context.Context, pw secret.String) (string, error)
	Verify(ctx context.Context, pw secret.String, encoded string) error
	VerifyDummy(ctx context.Context, pw secret.String)
	NeedsRehash(encoded string) bool
}

// Service drives the identity state machine.
type Service struct {
	store  Store
	hasher PasswordHasher
	log    *slog.Logger
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, hasher PasswordHasher, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		hasher: hasher,
		log:    slog.New(slog.DiscardHandler),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register persists u as an Inactive user.
func (s *Service) Register(ctx context.Context, u Unregistered) (Inactive, error) {
	const op = "identity.Register"

	email := NormalizeEmail(u.Email)
	if !ValidEmail(email) {
		return Inactive{}, invalid(op, "invalid email")
	}
	if u.Password.IsZero() {
		return Inactive{}, invalid(op, "password is required")
	}

	hash, err := s.hasher.Hash(ctx, u.Password)
	if err != nil {
		if isPolicyError(err) {
			return Inactive{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error(), Err: err}
		}
		return Inactive{}, unexpected(op, err)
	}

	now := s.now()
	id, err := ids.New(now)
	if err != nil {
		return Inactive{}, unexpected(op, err)
	}

	rec, err := s.store.CreateUser(ctx, CreateUserInput{ID: id, Email: email, PasswordHash: hash, Now: now})
	if err != nil {
		var ce ConflictError
		if errors.As(err, &ce) && ce.Field == "email" {
			return Inactive{}, OpError{Op: op, Kind: ErrDuplicateEmail, Err: err}
		}
		return Inactive{}, unexpected(op, err)
	}

	s.log.Info("identity.register.ok", "user_id", rec.ID)
	return Inactive{Principal: Principal{ID: rec.ID, Email: rec.Email}, PasswordHash: rec.PasswordHash}, nil
}

// Activate moves an Inactive user to NoGroupUser.
func (s *Service) Activate(ctx context.Context, userID string) (NoGroupUser, error) {
	const op = "identity.Activate"

	rec, err := s.store.ActivateUser(ctx, userID, s.now())
	switch {
	case err == nil:
	case IsNotFound(err):
		return NoGroupUser{}, OpError{Op: op, Kind: ErrRegistration, Msg: "unknown user", Err: err}
	case IsConflict(err):
		return NoGroupUser{}, OpError{Op: op, Kind: ErrConflict, Msg: "already active"}
	default:
		return NoGroupUser{}, unexpected(op, err)
	}

	s.log.Info("identity.activate.ok", "user_id", rec.ID)
	return NoGroupUser{Principal: Principal{ID: rec.ID, Email: rec.Email}}, nil
}

// Validate authenticates email/pw and returns the user's current authorized
// state. Unknown or inactive users fail with ErrRegistration, a wrong or
// unverifiable password with ErrPassword. Both paths cost one Argon2id run.
func (s *Service) Validate(ctx context.Context, email string, pw secret.String) (AuthorizedUser, error) {
	const op = "identity.Validate"

	rec, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			s.hasher.VerifyDummy(ctx, pw)
			s.log.Info("identity.login.fail", "reason", "unknown_email")
			return nil, OpError{Op: op, Kind: ErrRegistration, Msg: "unknown email"}
		}
		return nil, unexpected(op, err)
	}

	verr := s.hasher.Verify(ctx, pw, rec.PasswordHash)

	user, ok := rec.authorized()
	if !ok {
		s.log.Info("identity.login.fail", "reason", "inactive", "user_id", rec.ID)
		return nil, OpError{Op: op, Kind: ErrRegistration, Msg: "user not active"}
	}

	switch {
	case verr == nil:
	case errors.Is(verr, ErrAuthentication):
		s.log.Info("identity.login.fail", "reason", "password", "user_id", rec.ID)
		return nil, OpError{Op: op, Kind: ErrPassword}
	case errors.Is(verr, ErrMalformedHash):
		s.log.Error("identity.login.malformed_hash", "user_id", rec.ID, "err", verr)
		return nil, OpError{Op: op, Kind: ErrPassword, Err: verr}
	default:
		return nil, unexpected(op, verr)
	}

	if s.hasher.NeedsRehash(rec.PasswordHash) {
		s.rehash(ctx, rec.ID, pw)
	}

	s.log.Info("identity.login.ok", "user_id", rec.ID, "stage", user.Stage().String())
	return user, nil
}

// rehash upgrades a stored hash to the current parameters. Failure only
// costs the upgrade; the login has already succeeded.
func (s *Service) rehash(ctx context.Context, userID string, pw secret.String) {
	hash, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		if isPolicyError(err) {
			s.log.Debug("identity.rehash.skip", "user_id", userID, "reason", "policy")
			return
		}
		s.log.Warn("identity.rehash.fail", "user_id", userID, "err", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		s.log.Warn("identity.rehash.fail", "user_id", userID, "err", err)
		return
	}
	s.log.Info("identity.rehash.ok", "user_id", userID)
}

// ChangePassword replaces the password of an activated user.
func (s *Service) ChangePassword(ctx context.Context, userID string, pw secret.String) error {
	const op = "identity.ChangePassword"

	rec, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		// An unknown id here means the caller already held a stale identity.
		return unexpected(op, err)
	}
	if !rec.Active {
		return OpError{Op: op, Kind: ErrRegistration, Msg: "user not active"}
	}
	if pw.IsZero() {
		return invalid(op, "password is required")
	}

	hash, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		if isPolicyError(err) {
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error(), Err: err}
		}
		return unexpected(op, err)
	}

	if err := s.store.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return unexpected(op, err)
	}

	s.log.Info("identity.password.changed", "user_id", userID)
	return nil
}

// Deactivate moves any persisted user back to Inactive and drops its group.
func (s *Service) Deactivate(ctx context.Context, userID string) (Inactive, error) {
	const op = "identity.Deactivate"

	rec, err := s.store.DeactivateUser(ctx, userID, s.now())
	if err != nil {
		if IsNotFound(err) {
			return Inactive{}, OpError{Op: op, Kind: ErrRegistration, Msg: "unknown user", Err: err}
		}
		return Inactive{}, unexpected(op, err)
	}

	s.log.Info("identity.deactivate.ok", "user_id", rec.ID)
	return Inactive{Principal: Principal{ID: rec.ID, Email: rec.Email}, PasswordHash: rec.PasswordHash}, nil
}

// Remove deletes the user. Removing an unknown id is not an error.
func (s *Service) Remove(ctx context.Context, userID string) error {
	const op = "identity.Remove"

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return unexpected(op, err)
	}
	s.log.Info("identity.remove.ok", "user_id", userID)
	return nil
}

// GetUser returns the current lifecycle state of userID.
func (s *Service) GetUser(ctx context.Context, userID string) (State, error) {
	const op = "identity.GetUser"

	rec, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, OpError{Op: op, Kind: ErrRegistration, Msg: "unknown user", Err: err}
		}
		return nil, unexpected(op, err)
	}
	return rec.State(), nil
}

func isPolicyError(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}
