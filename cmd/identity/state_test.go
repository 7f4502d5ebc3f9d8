package identity

import "testing"

func TestUserRecord_StateProjection(t *testing.T) {
	t.Parallel()

	gid := int64(7)
	cases := []struct {
		rec  UserRecord
		want Stage
	}{
		{UserRecord{ID: "u", Email: "e", PasswordHash: "h"}, StageInactive},
		{UserRecord{ID: "u", Email: "e", Active: true}, StageNoGroup},
		{UserRecord{ID: "u", Email: "e", Active: true, GroupID: &gid}, StageGroup},
	}
	for _, tc := range cases {
		if got := tc.rec.State().Stage(); got != tc.want {
			t.Fatalf("State() = %s, want %s", got, tc.want)
		}
	}

	g, ok := cases[2].rec.State().(GroupUser)
	if !ok || g.GroupID != 7 || g.ID != "u" {
		t.Fatalf("unexpected group user: %+v", g)
	}
}

func TestTransitions_PreserveIdentity(t *testing.T) {
	t.Parallel()

	ng := NoGroupUser{Principal: Principal{ID: "u1", Email: "a@test.com"}}
	g := ng.JoinGroup(3)
	if g.GroupID != 3 || g.Identity() != ng.Identity() {
		t.Fatalf("join lost identity: %+v", g)
	}
	back := g.LeaveGroup()
	if back != ng {
		t.Fatalf("leave did not restore the no-group user: %+v", back)
	}

	var _ AuthorizedUser = ng
	var _ AuthorizedUser = g
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if StageGroup.String() != "group" || Stage(0).String() != "unknown" {
		t.Fatalf("unexpected stage names")
	}
	if (Unregistered{}).Stage() != StageUnregistered {
		t.Fatalf("unregistered stage mismatch")
	}
}
