package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"daters/cmd/security/secret"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	return NewService(st, newTestHasher(t)), st
}

func mustRegisterActive(t *testing.T, svc *Service, email, pw string) NoGroupUser {
	t.Helper()
	ctx := context.Background()

	in, err := svc.Register(ctx, Unregistered{Email: email, Password: secret.New(pw)})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	u, err := svc.Activate(ctx, in.ID)
	if err != nil {
		t.Fatalf("Activate(%s): %v", email, err)
	}
	return u
}

func TestService_LoginRequiresActivation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	in, err := svc.Register(ctx, Unregistered{Email: "a@test.com", Password: secret.New("pw")})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if in.ID == "" || in.Email != "a@test.com" || in.PasswordHash == "" {
		t.Fatalf("unexpected inactive user: %+v", in)
	}

	if _, err := svc.Validate(ctx, "a@test.com", secret.New("pw")); !IsRegistration(err) {
		t.Fatalf("expected RegistrationError before activation, got %v", err)
	}

	ng, err := svc.Activate(ctx, in.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if ng.ID != in.ID {
		t.Fatalf("activate changed the id")
	}

	got, err := svc.Validate(ctx, "a@test.com", secret.New("pw"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := got.(NoGroupUser); !ok {
		t.Fatalf("expected NoGroupUser, got %T", got)
	}
}

func TestService_ChangePassword(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustRegisterActive(t, svc, "a@test.com", "pw")

	if err := svc.ChangePassword(ctx, u.ID, secret.New("newpw")); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Validate(ctx, "a@test.com", secret.New("pw")); !IsPassword(err) {
		t.Fatalf("expected PasswordError for old password, got %v", err)
	}
	if _, err := svc.Validate(ctx, "a@test.com", secret.New("newpw")); err != nil {
		t.Fatalf("Validate new password: %v", err)
	}

	if err := svc.ChangePassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", secret.New("x")); !IsUnexpected(err) {
		t.Fatalf("expected UnexpectedError for unknown user, got %v", err)
	}
}

// Short passwords such as "pw" must work under the shipped policy; only the
// Argon2 cost is lowered here.
func TestService_DefaultPolicyAcceptsShortPasswords(t *testing.T) {
	t.Parallel()
	cfg := DefaultHasherConfig()
	cfg.Password.Params.MemoryKiB = 64
	cfg.Password.Params.Iterations = 1
	cfg.Password.Params.Parallelism = 1
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	svc := NewService(NewMemoryStore(), h)
	ctx := context.Background()

	u := mustRegisterActive(t, svc, "short@test.com", "pw")
	if _, err := svc.Validate(ctx, "short@test.com", secret.New("pw")); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, secret.New("newpw")); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Validate(ctx, "short@test.com", secret.New("newpw")); err != nil {
		t.Fatalf("Validate new password: %v", err)
	}
	if _, err := svc.Validate(ctx, "short@test.com", secret.New("pw")); !IsPassword(err) {
		t.Fatalf("expected PasswordError for old password, got %v", err)
	}
}

func TestService_LoginErrorsAreDistinct(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustRegisterActive(t, svc, "a@test.com", "pw")

	_, err := svc.Validate(ctx, "nobody@test.com", secret.New("pw"))
	if !IsRegistration(err) || IsPassword(err) {
		t.Fatalf("unknown email: expected RegistrationError only, got %v", err)
	}

	_, err = svc.Validate(ctx, "a@test.com", secret.New("wrong"))
	if !IsPassword(err) || IsRegistration(err) {
		t.Fatalf("wrong password: expected PasswordError only, got %v", err)
	}
}

func TestService_MalformedStoredHash(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	u := mustRegisterActive(t, svc, "a@test.com", "pw")
	if err := st.UpdatePasswordHash(ctx, u.ID, "corrupted", time.Time{}); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	_, err := svc.Validate(ctx, "a@test.com", secret.New("pw"))
	if !IsPassword(err) {
		t.Fatalf("expected PasswordError, got %v", err)
	}
	if !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected MalformedHash in chain, got %v", err)
	}
}

func TestService_EmailIsNormalized(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustRegisterActive(t, svc, "  Mixed@Test.COM ", "pw")

	if _, err := svc.Validate(ctx, "mixed@test.com", secret.New("pw")); err != nil {
		t.Fatalf("Validate normalized: %v", err)
	}

	_, err := svc.Register(ctx, Unregistered{Email: "MIXED@test.com", Password: secret.New("pw")})
	if !errors.Is(err, ErrDuplicateEmail) || !IsConflict(err) {
		t.Fatalf("expected DuplicateEmail conflict, got %v", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []Unregistered{
		{Email: "", Password: secret.New("pw")},
		{Email: "not-an-email", Password: secret.New("pw")},
		{Email: "Bob <bob@test.com>", Password: secret.New("pw")},
		{Email: "bob@test.com"},
	}
	for _, in := range cases {
		if _, err := svc.Register(ctx, in); !IsInvalidInput(err) {
			t.Fatalf("Register(%q): expected invalid input, got %v", in.Email, err)
		}
	}
}

func TestService_ActivateErrors(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !IsRegistration(err) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}

	u := mustRegisterActive(t, svc, "a@test.com", "pw")
	if _, err := svc.Activate(ctx, u.ID); !IsConflict(err) {
		t.Fatalf("expected conflict on second activation, got %v", err)
	}
}

func TestService_DeactivateAndRemove(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	u := mustRegisterActive(t, svc, "a@test.com", "pw")
	gid, err := st.CreateGroup(ctx, time.Time{})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := st.SetUserGroup(ctx, u.ID, gid, time.Time{}); err != nil {
		t.Fatalf("SetUserGroup: %v", err)
	}

	in, err := svc.Deactivate(ctx, u.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if in.ID != u.ID {
		t.Fatalf("deactivate changed the id")
	}

	state, err := svc.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if _, ok := state.(Inactive); !ok {
		t.Fatalf("expected Inactive, got %T", state)
	}
	if _, err := svc.Validate(ctx, "a@test.com", secret.New("pw")); !IsRegistration(err) {
		t.Fatalf("expected RegistrationError after deactivation, got %v", err)
	}

	if err := svc.Remove(ctx, u.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Remove(ctx, u.ID); err != nil {
		t.Fatalf("Remove must be idempotent: %v", err)
	}
	if _, err := svc.GetUser(ctx, u.ID); !IsRegistration(err) {
		t.Fatalf("expected RegistrationError after removal, got %v", err)
	}
}

func TestService_LoginRehashesOutdatedHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemoryStore()

	oldCfg := testHasherConfig()
	oldHasher, err := NewHasher(oldCfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	defer func() { _ = oldHasher.Close() }()

	u := mustRegisterActive(t, NewService(st, oldHasher), "a@test.com", "pw")
	before, _ := st.GetUserByID(ctx, u.ID)

	newCfg := testHasherConfig()
	newCfg.Password.Params.Iterations = 2
	newHasher, err := NewHasher(newCfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	defer func() { _ = newHasher.Close() }()

	svc := NewService(st, newHasher)
	if _, err := svc.Validate(ctx, "a@test.com", secret.New("pw")); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	after, _ := st.GetUserByID(ctx, u.ID)
	if after.PasswordHash == before.PasswordHash {
		t.Fatalf("expected hash to be upgraded")
	}
	if newHasher.NeedsRehash(after.PasswordHash) {
		t.Fatalf("upgraded hash still uses old parameters")
	}
	if _, err := svc.Validate(ctx, "a@test.com", secret.New("pw")); err != nil {
		t.Fatalf("Validate after rehash: %v", err)
	}
}
