package authority

import "time"

// Event types published to an EventSink.
const (
	EventSessionCreated  = "session.created"
	EventSessionEvicted  = "session.evicted"
	EventSessionRotated  = "session.rotated"
	EventSessionRevoked  = "session.revoked"
	EventReuseDetected   = "session.reuse_detected"
	EventSessionVerified = "session.verified"
	EventFlagToggled     = "session.flag_toggled"
	EventSuspiciousLogin = "login.suspicious"
)

// Event describes a session state change. It never carries token material.
type Event struct {
	Type      string            `json:"type"`
	AccountID string            `json:"account_id"`
	SessionID string            `json:"session_id,omitempty"`
	At        time.Time         `json:"at"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type discardSink struct{}

func (discardSink) Publish(Event) {}
