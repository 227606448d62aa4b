package domain

// EnvelopeType tags the signaling message union.
type EnvelopeType string

const (
	EnvRegister EnvelopeType = "register"

	EnvCallInit    EnvelopeType = "call:init"
	EnvCallAccept  EnvelopeType = "call:accept"
	EnvCallReject  EnvelopeType = "call:reject"
	EnvCallEnd     EnvelopeType = "call:end"
	EnvCallWaiting EnvelopeType = "call:waiting"
	EnvCallHold    EnvelopeType = "call:hold"
	EnvCallResume  EnvelopeType = "call:resume"

	EnvOffer  EnvelopeType = "webrtc:offer"
	EnvAnswer EnvelopeType = "webrtc:answer"
	EnvICE    EnvelopeType = "webrtc:ice"

	EnvRoomCreate     EnvelopeType = "room:create"
	EnvRoomJoin       EnvelopeType = "room:join"
	EnvRoomJoined     EnvelopeType = "room:joined"
	EnvRoomInvite     EnvelopeType = "room:invite"
	EnvRoomPeerJoined EnvelopeType = "room:participant_joined"
	EnvRoomPeerLeft   EnvelopeType = "room:participant_left"
	EnvRoomEnd        EnvelopeType = "room:end"

	EnvMeshOffer  EnvelopeType = "mesh:offer"
	EnvMeshAnswer EnvelopeType = "mesh:answer"
	EnvMeshICE    EnvelopeType = "mesh:ice"

	EnvError EnvelopeType = "error"
)

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// Envelope is the generic signaling message. One flat struct with omitempty
// fields rather than per-type structs; the Type field selects which fields
// are meaningful.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	SessionID string       `json:"sessionId,omitempty"`
	RoomID    string       `json:"roomId,omitempty"`
	From      Party        `json:"from,omitempty"`
	To        Party        `json:"to,omitempty"`

	Token     string `json:"token,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
	Video     bool   `json:"video,omitempty"`

	SDP       *SDPPayload          `json:"sdp,omitempty"`
	Candidate *ICECandidatePayload `json:"candidate,omitempty"`

	Roster      []Party `json:"roster,omitempty"`
	Participant Party   `json:"participant,omitempty"`

	Message   string `json:"message,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// IsNegotiation reports whether the envelope carries description or
// candidate data that must wait for a peer link to exist. These are the
// envelope types the session buffers before link readiness.
func (e Envelope) IsNegotiation() bool {
	switch e.Type {
	case EnvOffer, EnvAnswer, EnvICE, EnvMeshOffer, EnvMeshAnswer, EnvMeshICE:
		return true
	}
	return false
}
