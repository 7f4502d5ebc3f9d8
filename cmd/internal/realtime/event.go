// Package realtime pushes "dates changed" notifications to the members of a
// group over WebSocket.
//
// Events carry no date data. A client that receives one refetches its list
// through the regular API, which scopes by group again.
package realtime

import "time"

const (
	TypeHello        = "hello"
	TypeDatesChanged = "dates_changed"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Event is the only frame the server writes.
type Event struct {
	Type    string    `json:"type"`
	GroupID int64     `json:"group_id,omitempty"`
	TS      time.Time `json:"ts"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// inbound is what clients may send. Only pings are understood.
type inbound struct {
	Type string `json:"type"`
}
