package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"daters/cmd/identity/ids"
)

// runStoreContract exercises the semantics every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create_and_lookup", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		rec := mustCreateUser(t, st, "a@test.com")
		if rec.Active || rec.GroupID != nil {
			t.Fatalf("new user must be inactive without group: %+v", rec)
		}

		byID, err := st.GetUserByID(ctx, rec.ID)
		if err != nil || byID.Email != "a@test.com" {
			t.Fatalf("GetUserByID: %+v %v", byID, err)
		}
		byEmail, err := st.GetUserByEmail(ctx, "a@test.com")
		if err != nil || byEmail.ID != rec.ID {
			t.Fatalf("GetUserByEmail: %+v %v", byEmail, err)
		}

		_, err = st.GetUserByID(ctx, mustID(t))
		if MissingResource(err) != "user" {
			t.Fatalf("expected missing user, got %v", err)
		}
	})

	t.Run("duplicate_email", func(t *testing.T) {
		st := newStore(t)
		mustCreateUser(t, st, "a@test.com")

		_, err := st.CreateUser(context.Background(), CreateUserInput{ID: mustID(t), Email: "a@test.com", PasswordHash: "h"})
		var ce ConflictError
		if !errors.As(err, &ce) || ce.Field != "email" {
			t.Fatalf("expected email conflict, got %v", err)
		}
	})

	t.Run("activate", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		rec := mustCreateUser(t, st, "a@test.com")

		got, err := st.ActivateUser(ctx, rec.ID, time.Time{})
		if err != nil || !got.Active {
			t.Fatalf("ActivateUser: %+v %v", got, err)
		}
		if _, err := st.ActivateUser(ctx, rec.ID, time.Time{}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict on re-activation, got %v", err)
		}
		if _, err := st.ActivateUser(ctx, mustID(t), time.Time{}); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("group_assignment", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		inactive := mustCreateUser(t, st, "inactive@test.com")
		active := mustCreateUser(t, st, "active@test.com")
		if _, err := st.ActivateUser(ctx, active.ID, time.Time{}); err != nil {
			t.Fatalf("ActivateUser: %v", err)
		}

		g1, err := st.CreateGroup(ctx, time.Time{})
		if err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
		g2, err := st.CreateGroup(ctx, time.Time{})
		if err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
		if g2 <= g1 {
			t.Fatalf("group ids must increase: %d then %d", g1, g2)
		}

		if ok, err := st.GroupExists(ctx, g1); err != nil || !ok {
			t.Fatalf("GroupExists(g1) = %v, %v", ok, err)
		}
		if ok, err := st.GroupExists(ctx, g2+1000); err != nil || ok {
			t.Fatalf("GroupExists(unknown) = %v, %v", ok, err)
		}

		if _, err := st.SetUserGroup(ctx, active.ID, g2+1000, time.Time{}); MissingResource(err) != "group" {
			t.Fatalf("expected missing group, got %v", err)
		}
		if _, err := st.SetUserGroup(ctx, inactive.ID, g1, time.Time{}); !IsNotActive(err) {
			t.Fatalf("expected not active, got %v", err)
		}
		if _, err := st.SetUserGroup(ctx, mustID(t), g1, time.Time{}); MissingResource(err) != "user" {
			t.Fatalf("expected missing user, got %v", err)
		}

		rec, err := st.SetUserGroup(ctx, active.ID, g1, time.Time{})
		if err != nil || rec.GroupID == nil || *rec.GroupID != g1 {
			t.Fatalf("SetUserGroup: %+v %v", rec, err)
		}

		gid, err := st.GroupByMemberEmail(ctx, "active@test.com")
		if err != nil || gid != g1 {
			t.Fatalf("GroupByMemberEmail = %d, %v", gid, err)
		}
		if _, err := st.GroupByMemberEmail(ctx, "inactive@test.com"); MissingResource(err) != "group" {
			t.Fatalf("expected missing group for groupless peer, got %v", err)
		}
		if _, err := st.GroupByMemberEmail(ctx, "nobody@test.com"); MissingResource(err) != "user" {
			t.Fatalf("expected missing user, got %v", err)
		}

		rec, err = st.ClearUserGroup(ctx, active.ID, time.Time{})
		if err != nil || rec.GroupID != nil {
			t.Fatalf("ClearUserGroup: %+v %v", rec, err)
		}
	})

	t.Run("deactivate_clears_group", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		rec := mustCreateUser(t, st, "a@test.com")
		if _, err := st.ActivateUser(ctx, rec.ID, time.Time{}); err != nil {
			t.Fatalf("ActivateUser: %v", err)
		}
		gid, err := st.CreateGroup(ctx, time.Time{})
		if err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
		if _, err := st.SetUserGroup(ctx, rec.ID, gid, time.Time{}); err != nil {
			t.Fatalf("SetUserGroup: %v", err)
		}

		got, err := st.DeactivateUser(ctx, rec.ID, time.Time{})
		if err != nil || got.Active || got.GroupID != nil {
			t.Fatalf("DeactivateUser: %+v %v", got, err)
		}
		if _, ok := got.State().(Inactive); !ok {
			t.Fatalf("expected Inactive state")
		}
	})

	t.Run("password_and_delete", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		rec := mustCreateUser(t, st, "a@test.com")

		if err := st.UpdatePasswordHash(ctx, rec.ID, "h2", time.Time{}); err != nil {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}
		got, _ := st.GetUserByID(ctx, rec.ID)
		if got.PasswordHash != "h2" {
			t.Fatalf("hash not updated")
		}
		if err := st.UpdatePasswordHash(ctx, mustID(t), "h", time.Time{}); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}

		if err := st.DeleteUser(ctx, rec.ID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if err := st.DeleteUser(ctx, rec.ID); err != nil {
			t.Fatalf("DeleteUser must be idempotent: %v", err)
		}
		// The email is free again.
		mustCreateUser(t, st, "a@test.com")
	})

	t.Run("concurrent_group_creation", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[int64]bool)
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := st.CreateGroup(ctx, time.Time{})
				if err != nil {
					t.Errorf("CreateGroup: %v", err)
					return
				}
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		if len(seen) != 16 {
			t.Fatalf("expected 16 distinct group ids, got %d", len(seen))
		}
	})
}

func mustCreateUser(t *testing.T, st Store, email string) UserRecord {
	t.Helper()
	rec, err := st.CreateUser(context.Background(), CreateUserInput{
		ID:           mustID(t),
		Email:        email,
		PasswordHash: "$argon2id$placeholder",
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return rec
}

func mustID(t *testing.T) string {
	t.Helper()
	id, err := ids.New(time.Time{})
	if err != nil {
		t.Fatalf("ids.New: %v", err)
	}
	return id
}
