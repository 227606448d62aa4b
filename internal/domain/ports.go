package domain

import "context"

// TokenFetcher acquires a call session token from the trust authority.
// Every call attempt acquires a fresh token; tokens are never reused.
type TokenFetcher interface {
	Acquire(ctx context.Context, localParty, remoteParty Party) (*CallSessionToken, error)
}

// Signaler sends envelopes over the rendezvous channel. Send fails fast with
// ErrChannelNotReady when the channel is not open; any buffering of
// negotiation messages happens in the session, never here.
type Signaler interface {
	Send(Envelope) error
}

// Link is one negotiated connection to exactly one remote party. A Link is
// exclusively owned by a single session or room coordinator and destroyed
// exactly once; Close on a closed link is a no-op.
type Link interface {
	CreateOffer(ctx context.Context) (SDPPayload, error)
	CreateAnswer(ctx context.Context, offer SDPPayload) (SDPPayload, error)
	ApplyRemoteDescription(desc SDPPayload) error
	AddRemoteCandidate(candidate ICECandidatePayload) error
	RestartICE(ctx context.Context) (SDPPayload, error)
	OnCandidate(func(ICECandidatePayload))
	Events() <-chan LinkEvent
	Close()
}

// LinkFactory builds peer links. The production factory wraps a shared
// WebRTC engine; tests substitute scripted fakes.
type LinkFactory interface {
	NewLink(cfg LinkConfig) (Link, error)
}

// MediaSource acquires local capture media. Acquisition happens at most once
// per session.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (LocalMedia, error)
}

// Signer produces the cryptographic signature over a call intent. Signing is
// a consumed capability; the engine never implements it.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// NopSigner satisfies Signer without a key, for deployments where the
// signaling service does its own authentication.
type NopSigner struct{}

func (NopSigner) Sign([]byte) (string, error) { return "", nil }
