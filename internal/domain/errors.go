package domain

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable cause carried on errors, envelopes and
// terminal outcomes.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTokenExpired     Reason = "token_expired"
	ReasonSignatureInvalid Reason = "signature_invalid"
	ReasonTimestampSkew    Reason = "timestamp_skew"
	ReasonPeerOffline      Reason = "peer_offline"
	ReasonBlocked          Reason = "blocked"
	ReasonRejected         Reason = "rejected"
	ReasonHandshakeFailed  Reason = "handshake_failed"
	ReasonMediaDenied      Reason = "media_denied"
	ReasonReconnectsSpent  Reason = "connection failed after multiple attempts"
	ReasonICEFailed        Reason = "ice_failed"
	ReasonHangup           Reason = "hangup"
	ReasonRemoteEnded      Reason = "remote_ended"
	ReasonRoomEnded        Reason = "room_ended"
)

// ErrorKind classifies an error for the retry policy.
type ErrorKind int

const (
	// KindRetryable errors are absorbed by the owning component and retried
	// silently up to its attempt bound.
	KindRetryable ErrorKind = iota
	// KindFatal errors terminate the attempt immediately.
	KindFatal
	// KindRemote errors are terminal verdicts from the far side (offline,
	// rejected, blocked); never retried automatically.
	KindRemote
	// KindLocalResource covers media-device failures; the session may
	// degrade instead of failing.
	KindLocalResource
	// KindConnectivity covers ICE failure after fallback and exhausted
	// reconnects.
	KindConnectivity
)

// Error is the classified error crossing component boundaries.
type Error struct {
	Kind   ErrorKind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	msg := "call error"
	switch e.Kind {
	case KindRetryable:
		msg = "retryable"
	case KindFatal:
		msg = "fatal"
	case KindRemote:
		msg = "remote"
	case KindLocalResource:
		msg = "local resource"
	case KindConnectivity:
		msg = "connectivity"
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(kind ErrorKind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// IsRetryable reports whether err is classified retryable.
func IsRetryable(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindRetryable
}

// ReasonOf extracts the machine-readable reason, if any.
func ReasonOf(err error) Reason {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonNone
}

// ErrChannelNotReady is returned by Send on a signaling channel that is not
// open. The caller must re-establish the channel; the engine never queues at
// this layer.
var ErrChannelNotReady = errors.New("channel not ready")

// ErrSessionEnded is returned when an operation is posted to a session that
// has reached its terminal state.
var ErrSessionEnded = errors.New("session ended")
