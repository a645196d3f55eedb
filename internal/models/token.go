package models

import "time"

// Token is the persisted bearer credential used to authenticate against the
// vendor's REST and WebSocket endpoints.
type Token struct {
	SchemaVersion int        `json:"schema_version"`
	Bearer        string     `json:"token"`
	ExpiresAt     *time.Time `json:"exp"`
	Cookies       string     `json:"cookies"`
	IssuedAt      time.Time  `json:"issued_at"`
}

// CurrentTokenSchemaVersion is bumped whenever Token gains a field that an
// older on-disk document won't have; the store backfills a default and
// re-persists, mirroring the teacher's own state-migration pattern.
const CurrentTokenSchemaVersion = 1

// Valid reports whether the token can still be presented to the vendor.
// An absent ExpiresAt is treated as valid, matching the Python original's
// "unknown exp = not expired" behavior.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.Bearer == "" {
		return false
	}
	if t.ExpiresAt == nil {
		return true
	}
	return t.ExpiresAt.After(now)
}

// TokenStatus is the classification returned to operators/bots.
type TokenStatus struct {
	Present       bool       `json:"present"`
	Valid         bool       `json:"valid"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	SecondsToExp  *int64     `json:"seconds_to_expiry,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	HasCookies    bool       `json:"has_cookies"`
}
