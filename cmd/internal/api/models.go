package api

import (
	"time"

	"daters/cmd/identity"
	"daters/cmd/internal/dates"
	"daters/cmd/security/secret"
)

type credentialsRequest struct {
	Email    string        `json:"email"`
	Password secret.String `json:"password"`
}

type passwordRequest struct {
	Password secret.String `json:"password"`
}

// joinRequest names the group either directly or through a member's email.
type joinRequest struct {
	Email   *string `json:"email"`
	GroupID *int64  `json:"group_id"`
}

type dateCreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Day         *string `json:"day"`
}

type dateUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Day         *string `json:"day"`
	ClearDay    bool    `json:"clear_day"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Stage   string `json:"stage"`
	GroupID *int64 `json:"group_id,omitempty"`
}

type dateResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Count       int64     `json:"count"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Day         *string   `json:"day,omitempty"`
	Expanded    bool      `json:"expanded"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type datesResponse struct {
	Dates []dateResponse `json:"dates"`
}

func toUserResponse(st identity.State) userResponse {
	var (
		p   identity.Principal
		gid *int64
	)
	switch u := st.(type) {
	case identity.Inactive:
		p = u.Principal
	case identity.NoGroupUser:
		p = u.Principal
	case identity.GroupUser:
		p = u.Principal
		g := u.GroupID
		gid = &g
	case identity.Unregistered:
		p.Email = u.Email
	}
	return userResponse{ID: p.ID, Email: p.Email, Stage: st.Stage().String(), GroupID: gid}
}

func toDateResponse(d dates.Date, expanded bool) dateResponse {
	out := dateResponse{
		ID:          d.ID,
		Name:        d.Name,
		Count:       d.Count,
		Description: d.Description.Text,
		Status:      string(d.Description.Status),
		Expanded:    expanded,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Description.Day != nil {
		day := d.Description.Day.Format(time.DateOnly)
		out.Day = &day
	}
	return out
}
