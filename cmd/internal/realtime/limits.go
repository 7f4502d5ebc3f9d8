package realtime

import "time"

const (
	// Inbound frames are pings; anything larger is a misbehaving client.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Inbound frames per connection per window.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	defaultSendQueueSize = 16
	defaultWriteTimeout  = 5 * time.Second
	closeGrace           = 1 * time.Second
)
