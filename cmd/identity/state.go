package identity

import (
	"time"

	"daters/cmd/security/secret"
)

// Stage names a lifecycle stage.
type Stage uint8

const (
	StageUnregistered Stage = iota + 1
	StageInactive
	StageNoGroup
	StageGroup
)

func (s Stage) String() string {
	switch s {
	case StageUnregistered:
		return "unregistered"
	case StageInactive:
		return "inactive"
	case StageNoGroup:
		return "no_group"
	case StageGroup:
		return "group"
	default:
		return "unknown"
	}
}

// State is implemented only by Unregistered, Inactive, NoGroupUser and
// GroupUser. A user is in exactly one of them at a time.
type State interface {
	Stage() Stage
	sealed()
}

// AuthorizedUser is an activated identity: NoGroupUser or GroupUser.
type AuthorizedUser interface {
	State
	Identity() Principal
}

// Principal is the persisted identity shared by all post-registration states.
type Principal struct {
	ID    string
	Email string
}

// Unregistered is a credential pair that is not yet a system fact. It only
// ever exists as an argument to Service.Register.
type Unregistered struct {
	Email    string
	Password secret.String
}

// Inactive is persisted but cannot log in until activated.
type Inactive struct {
	Principal
	PasswordHash string
}

// NoGroupUser is activated and belongs to no group.
type NoGroupUser struct {
	Principal
}

// GroupUser is activated and bound to exactly one group.
type GroupUser struct {
	Principal
	GroupID int64
}

func (Unregistered) Stage() Stage { return StageUnregistered }
func (Inactive) Stage() Stage     { return StageInactive }
func (NoGroupUser) Stage() Stage  { return StageNoGroup }
func (GroupUser) Stage() Stage    { return StageGroup }

func (Unregistered) sealed() {}
func (Inactive) sealed()     {}
func (NoGroupUser) sealed()  {}
func (GroupUser) sealed()    {}

func (u NoGroupUser) Identity() Principal { return u.Principal }
func (u GroupUser) Identity() Principal   { return u.Principal }

// JoinGroup is the NoGroupUser -> GroupUser transition.
func (u NoGroupUser) JoinGroup(groupID int64) GroupUser {
	return GroupUser{Principal: u.Principal, GroupID: groupID}
}

// LeaveGroup is the GroupUser -> NoGroupUser transition.
func (u GroupUser) LeaveGroup() NoGroupUser {
	return NoGroupUser{Principal: u.Principal}
}

// UserRecord is the persisted row behind every post-registration state.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	GroupID      *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State projects the row onto its lifecycle variant. An inactive row never
// carries a group; stores clear it on deactivation.
func (r UserRecord) State() State {
	p := Principal{ID: r.ID, Email: r.Email}
	switch {
	case !r.Active:
		return Inactive{Principal: p, PasswordHash: r.PasswordHash}
	case r.GroupID == nil:
		return NoGroupUser{Principal: p}
	default:
		return GroupUser{Principal: p, GroupID: *r.GroupID}
	}
}

// authorized returns the record as an AuthorizedUser, or false if inactive.
func (r UserRecord) authorized() (AuthorizedUser, bool) {
	switch s := r.State().(type) {
	case NoGroupUser:
		return s, true
	case GroupUser:
		return s, true
	default:
		return nil, false
	}
}
