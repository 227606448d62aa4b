package domain

import "time"

// CallSessionToken is the short-lived capability returned by the trust
// authority for a single call attempt. A token is get-one-use-one: every
// attempt (including retries after failure) fetches a fresh one.
type CallSessionToken struct {
	Token          string      `json:"token"`
	Nonce          string      `json:"nonce"`
	IssuedAt       int64       `json:"issuedAt"`
	ExpiresAt      int64       `json:"expiresAt"`
	ServerTime     int64       `json:"serverTime"`
	AllowTurn      bool        `json:"allowTurn"`
	AllowVideo     bool        `json:"allowVideo"`
	TurnConfigured bool        `json:"turnConfigured"`
	ICEServers     []ICEServer `json:"iceServers"`

	// LocalClockAtFetch is stamped by the token client when the response
	// arrives. All deadline math goes through ClockOffset, never raw local
	// time, so a skewed local clock cannot expire a token early.
	LocalClockAtFetch time.Time `json:"-"`
}

// ICEServer holds one STUN/TURN server entry from the token response.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ClockOffset is serverTime minus the local clock at fetch.
func (t *CallSessionToken) ClockOffset() time.Duration {
	server := time.UnixMilli(t.ServerTime)
	return server.Sub(t.LocalClockAtFetch)
}

// Deadline converts the token expiry into a local wall-clock instant,
// corrected for server clock skew.
func (t *CallSessionToken) Deadline() time.Time {
	return time.UnixMilli(t.ExpiresAt).Add(-t.ClockOffset())
}

// Expired reports whether the token has passed its skew-corrected deadline.
func (t *CallSessionToken) Expired(now time.Time) bool {
	return !now.Before(t.Deadline())
}
