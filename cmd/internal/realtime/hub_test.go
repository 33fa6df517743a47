package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_PublishFansOut(t *testing.T) {
	h := NewHub(discardLogger())
	a := NewClient("a", "acct-1", 4)
	b := NewClient("b", "acct-2", 4)
	h.Subscribe(a)
	h.Subscribe(b)

	h.Publish(authority.Event{Type: authority.EventSessionCreated, AccountID: "acct-9"})

	for _, c := range []*Client{a, b} {
		select {
		case e := <-c.Send:
			if e.Type != authority.EventSessionCreated {
				t.Fatalf("client %s: unexpected event %q", c.ID, e.Type)
			}
		default:
			t.Fatalf("client %s: expected an event", c.ID)
		}
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	h := NewHub(discardLogger())
	c := NewClient("slow", "acct-1", 1)
	h.Subscribe(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(authority.Event{Type: authority.EventSessionRotated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full queue")
	}
	if got := h.Dropped(); got != 9 {
		t.Fatalf("expected 9 dropped deliveries, got %d", got)
	}
}

func TestHub_UnsubscribeClosesClient(t *testing.T) {
	h := NewHub(discardLogger())
	c := NewClient("gone", "acct-1", 4)
	h.Subscribe(c)
	h.Unsubscribe(c.ID)

	select {
	case <-c.Done():
	default:
		t.Fatalf("expected client to be closed")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}

	h.Publish(authority.Event{Type: authority.EventSessionRevoked})
	if len(c.Send) != 0 {
		t.Fatalf("unsubscribed client must not receive events")
	}
	h.Unsubscribe(c.ID)
}

func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	h := NewHub(discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish(authority.Event{Type: authority.EventSessionCreated})
			}
		}()
		go func(i int) {
			defer wg.Done()
			c := NewClient(string(rune('a'+i)), "acct", 8)
			h.Subscribe(c)
			h.Unsubscribe(c.ID)
		}(i)
	}
	wg.Wait()
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after churn, got %d", h.Subscribers())
	}
}
