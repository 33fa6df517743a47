package realtime

import "time"

const (
	// The feed is server to client; inbound frames are only control frames.
	maxFrameBytes = 4 << 10

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3
)
