package domain

import "github.com/google/uuid"

// Party is the address of one call participant. Addresses are opaque to the
// engine; the identity layer that mints and verifies them is a collaborator.
type Party string

func (p Party) String() string { return string(p) }

// NewSessionID returns a fresh call session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRoomID returns a fresh group room identifier.
func NewRoomID() string {
	return uuid.NewString()
}
