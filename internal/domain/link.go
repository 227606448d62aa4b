package domain

// RouteClass says how media flows once a link is up: directly between the
// parties or through a relay.
type RouteClass string

const (
	RouteUnknown RouteClass = "unknown"
	RouteDirect  RouteClass = "direct"
	RouteRelay   RouteClass = "relay"
)

// Liveness is the connectivity state of one peer link.
type Liveness string

const (
	LivenessNew          Liveness = "new"
	LivenessConnecting   Liveness = "connecting"
	LivenessConnected    Liveness = "connected"
	LivenessDisconnected Liveness = "disconnected"
	LivenessFailed       Liveness = "failed"
	LivenessClosed       Liveness = "closed"
)

// LinkEvent is one liveness transition emitted by a peer link. Route is set
// alongside the first LivenessConnected event and RouteUnknown otherwise.
type LinkEvent struct {
	Liveness Liveness
	Route    RouteClass
}

// LinkConfig describes the peer link to build. DirectOnly strips relay
// servers from the ICE set; the first connectivity attempt of every session
// is direct-only, the relay set is used only by the entitled fallback
// rebuild.
type LinkConfig struct {
	Remote     Party
	ICEServers []ICEServer
	DirectOnly bool
	Media      LocalMedia
}

// LocalMedia is the handle to locally acquired capture tracks. Acquired at
// most once per session and reused across a relay-fallback rebuild; Release
// is idempotent.
type LocalMedia interface {
	Audio() bool
	Video() bool
	Release()
}
