package realtime

import (
	"sync"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
)

// Client is one connected event-feed subscriber.
//
// Send is never closed by the hub, so a publish racing a disconnect cannot
// panic. done signals the connection goroutines to stop; Close is idempotent.
type Client struct {
	ID        string
	AccountID string
	Send      chan authority.Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id, accountID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:        id,
		AccountID: accountID,
		Send:      make(chan authority.Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
