package model

import "time"

// DeviceFingerprint identifies one client device from stable request
// headers. The IP is carried for audit and equality display but is kept
// out of Hash so the fingerprint survives IP roaming (mobile, VPN).
type DeviceFingerprint struct {
	UserAgent      string `json:"user_agent"`
	IPAddress      string `json:"ip_address"`
	AcceptLanguage string `json:"accept_language"`
	AcceptEncoding string `json:"accept_encoding"`
	Hash           string `json:"fingerprint_hash"`
}

// Session is one authenticated device/browser instance for an admin user.
// Invalidation flips IsActive; the record itself is only removed by the
// expiry sweep so audit lookups stay consistent.
type Session struct {
	ID           string            `json:"id" db:"session_id"`
	UserID       string            `json:"user_id" db:"user_id"`
	Fingerprint  DeviceFingerprint `json:"fingerprint" db:"fingerprint"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	LastActivity time.Time         `json:"last_activity" db:"last_activity"`
	ExpiresAt    time.Time         `json:"expires_at" db:"expires_at"`
	IsActive     bool              `json:"is_active" db:"is_active"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
