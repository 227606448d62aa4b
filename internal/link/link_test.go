package link

import (
	"context"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callvault/callkit/internal/domain"
	"github.com/callvault/callkit/internal/media"
)

func acquireMedia(t *testing.T) domain.LocalMedia {
	t.Helper()
	m, err := media.NewSource(zerolog.Nop()).Acquire(context.Background(), false)
	require.NoError(t, err)
	return m
}

func TestICEServersDirectOnlyStripsRelays(t *testing.T) {
	servers := []domain.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
		{URLs: []string{"turns:turn.example.com:5349"}, Username: "u", Credential: "c"},
	}

	direct := iceServers(servers, true)
	require.Len(t, direct, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, direct[0].URLs)

	all := iceServers(servers, false)
	assert.Len(t, all, 3)
}

func TestRouteFromPair(t *testing.T) {
	host := &pion.ICECandidate{Typ: pion.ICECandidateTypeHost}
	srflx := &pion.ICECandidate{Typ: pion.ICECandidateTypeSrflx}
	relay := &pion.ICECandidate{Typ: pion.ICECandidateTypeRelay}

	assert.Equal(t, domain.RouteDirect, routeFromPair(host, host))
	assert.Equal(t, domain.RouteDirect, routeFromPair(srflx, host))
	assert.Equal(t, domain.RouteRelay, routeFromPair(relay, host))
	assert.Equal(t, domain.RouteRelay, routeFromPair(host, relay))
	assert.Equal(t, domain.RouteUnknown, routeFromPair(nil, host))
	assert.Equal(t, domain.RouteUnknown, routeFromPair(host, nil))
}

func TestLivenessMapping(t *testing.T) {
	assert.Equal(t, domain.LivenessNew, liveness(pion.PeerConnectionStateNew))
	assert.Equal(t, domain.LivenessConnecting, liveness(pion.PeerConnectionStateConnecting))
	assert.Equal(t, domain.LivenessConnected, liveness(pion.PeerConnectionStateConnected))
	assert.Equal(t, domain.LivenessDisconnected, liveness(pion.PeerConnectionStateDisconnected))
	assert.Equal(t, domain.LivenessFailed, liveness(pion.PeerConnectionStateFailed))
	assert.Equal(t, domain.LivenessClosed, liveness(pion.PeerConnectionStateClosed))
}

func TestOfferAnswerRoundTripOffline(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	caller, err := engine.NewLink(domain.LinkConfig{Remote: "bob", Media: acquireMedia(t)})
	require.NoError(t, err)
	defer caller.Close()

	callee, err := engine.NewLink(domain.LinkConfig{Remote: "alice", Media: acquireMedia(t)})
	require.NoError(t, err)
	defer callee.Close()

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.NotEmpty(t, offer.SDP)

	answer, err := callee.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	assert.NotEmpty(t, answer.SDP)

	require.NoError(t, caller.ApplyRemoteDescription(answer))
}

func TestCandidatesBeforeRemoteDescriptionAreHeld(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	l, err := engine.NewLink(domain.LinkConfig{Remote: "bob"})
	require.NoError(t, err)
	defer l.Close()

	// no remote description yet, so the candidate must be queued, not fail
	err = l.AddRemoteCandidate(domain.ICECandidatePayload{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
	})
	assert.NoError(t, err)
}

func TestRestartICEProducesOffer(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	l, err := engine.NewLink(domain.LinkConfig{Remote: "bob", Media: acquireMedia(t)})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.CreateOffer(context.Background())
	require.NoError(t, err)

	restart, err := l.RestartICE(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offer", restart.Type)
	assert.NotEmpty(t, restart.SDP)
}

func TestCloseIsIdempotent(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	l, err := engine.NewLink(domain.LinkConfig{Remote: "bob"})
	require.NoError(t, err)

	l.Close()
	l.Close()

	_, open := <-l.Events()
	assert.False(t, open, "events channel closed exactly once")
}
