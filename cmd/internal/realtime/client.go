package realtime

import "sync"

// Client is one connected feed subscriber.
//
// Send is never closed by the server so that a concurrent Publish cannot
// panic; done signals shutdown instead.
type Client struct {
	ID      string
	UserID  string
	GroupID int64
	Send    chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id, userID string, groupID int64, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ID:      id,
		UserID:  userID,
		GroupID: groupID,
		Send:    make(chan Event, sendQueueSize),
		done:    make(chan struct{}),
	}
}

func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent and leaves Send open.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
