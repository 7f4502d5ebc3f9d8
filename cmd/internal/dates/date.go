// Package dates holds the group-scoped date suggestions users vote on.
//
// Handlers only ever see Repository, whose methods take the acting user's id.
// The group is always resolved server-side; no method accepts a group id from
// the caller.
package dates

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusSuggested Status = "suggested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuggested, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type Description struct {
	Text   string
	Status Status
	Day    *time.Time
}

// Date is one suggestion. Count never drops below zero.
type Date struct {
	ID          string
	Name        string
	Count       int64
	Description Description
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d *Date) Increment() { d.Count++ }

func (d *Date) Decrement() {
	if d.Count > 0 {
		d.Count--
	}
}

func (d *Date) Approve() { d.Description.Status = StatusApproved }
func (d *Date) Reject()  { d.Description.Status = StatusRejected }

// NewDate is the input to Repository.Add.
type NewDate struct {
	Name string
	Text string
	Day  *time.Time
}

// Patch is a partial update. Nil fields are left alone; ClearDay removes the
// day.
type Patch struct {
	Name     *string
	Text     *string
	Status   *Status
	Day      *time.Time
	ClearDay bool
}

const (
	maxNameChars = 200
	maxTextChars = 2000
)

func cleanName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	return s, n > 0 && n <= maxNameChars
}

func cleanText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, utf8.RuneCountInString(s) <= maxTextChars
}

// apply validates p and applies it to d.
func (p Patch) apply(d *Date) error {
	if p.Name != nil {
		name, ok := cleanName(*p.Name)
		if !ok {
			return errInvalid("name must be 1-200 characters")
		}
		d.Name = name
	}
	if p.Text != nil {
		text, ok := cleanText(*p.Text)
		if !ok {
			return errInvalid("description too long")
		}
		d.Description.Text = text
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return errInvalid("unknown status")
		}
		switch *p.Status {
		case StatusApproved:
			d.Approve()
		case StatusRejected:
			d.Reject()
		default:
			d.Description.Status = StatusSuggested
		}
	}
	switch {
	case p.ClearDay:
		d.Description.Day = nil
	case p.Day != nil:
		day := truncateDay(*p.Day)
		d.Description.Day = &day
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}
