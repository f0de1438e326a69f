package model

import "time"

// EventType classifies a security event.
type EventType string

const (
	EventLogin              EventType = "LOGIN"
	EventLogout             EventType = "LOGOUT"
	EventTokenRefresh       EventType = "TOKEN_REFRESH"
	EventFailedLogin        EventType = "FAILED_LOGIN"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
)

// SecurityEvent is an immutable audit record. Events are appended to the
// in-memory log and fanned out to any configured sinks; they are never
// updated after creation.
type SecurityEvent struct {
	ID        string    `json:"id" db:"event_id"`
	Type      EventType `json:"type" db:"event_type"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	Timestamp time.Time `json:"timestamp" db:"event_time"`
	Details   string    `json:"details,omitempty" db:"details"`
}
