// Package credential owns the access/refresh token pair: its shape, its
// persistence and the coordination of concurrent refresh attempts.
package credential

import "time"

// Credential is the single token pair used to authenticate backend calls.
// It is mutated only by a successful login or refresh and cleared on
// logout or an irrecoverable refresh failure.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry at the
// given instant. A zero expiry means the server issued no lifetime and
// the token is used until rejected.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// ExpiringWithin reports whether the token expires within d of now.
// Used to refresh slightly ahead of the deadline instead of racing it.
func (c *Credential) ExpiringWithin(now time.Time, d time.Duration) bool {
	if c == nil {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(d).After(c.ExpiresAt)
}
