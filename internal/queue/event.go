// Package queue defines message payloads exchanged over the message broker.
package queue

// Session event types.
const (
	EventLogin           = "session.login"
	EventRefreshed       = "session.refreshed"
	EventReuseDetected   = "session.reuse_detected"
	EventLogout          = "session.logout"
	EventPasswordChanged = "session.password_changed"
)

// SessionEvent is published whenever a session changes state.  It carries
// enough information for audit consumers without querying the users table,
// and never includes token material.
type SessionEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Username   string `json:"username,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
