package link

import (
	"context"
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// Link wraps one pion PeerConnection to one remote party. Liveness
// transitions stream from Events; the first connected event also carries the
// route classification derived from the selected candidate pair.
type Link struct {
	pc     *pion.PeerConnection
	remote domain.Party

	mu          sync.Mutex
	remoteSet   bool
	pending     []domain.ICECandidatePayload
	onCandidate func(domain.ICECandidatePayload)
	closed      bool

	events    chan domain.LinkEvent
	closeOnce sync.Once

	log zerolog.Logger
}

func newLink(pc *pion.PeerConnection, remote domain.Party, logger zerolog.Logger) *Link {
	l := &Link{
		pc:     pc,
		remote: remote,
		events: make(chan domain.LinkEvent, 16),
		log:    logger.With().Str("remote", remote.String()).Logger(),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			l.log.Debug().Msg("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		payload := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		l.mu.Lock()
		cb := l.onCandidate
		l.mu.Unlock()
		if cb != nil {
			cb(payload)
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		l.log.Debug().Str("state", state.String()).Msg("connection state")
		ev := domain.LinkEvent{Liveness: liveness(state), Route: domain.RouteUnknown}
		if ev.Liveness == domain.LivenessConnected {
			ev.Route = l.classifyRoute()
		}
		l.push(ev)
	})

	return l
}

// OnCandidate registers the forwarder for locally discovered candidates. The
// owning orchestrator addresses each one to the specific remote party.
func (l *Link) OnCandidate(fn func(domain.ICECandidatePayload)) {
	l.mu.Lock()
	l.onCandidate = fn
	l.mu.Unlock()
}

// Events is the liveness stream. Closed when the link closes.
func (l *Link) Events() <-chan domain.LinkEvent {
	return l.events
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (l *Link) CreateOffer(ctx context.Context) (domain.SDPPayload, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer applies the remote offer, creates an answer and sets it as
// the local description.
func (l *Link) CreateAnswer(ctx context.Context, offer domain.SDPPayload) (domain.SDPPayload, error) {
	if err := l.ApplyRemoteDescription(offer); err != nil {
		return domain.SDPPayload{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "answer", SDP: answer.SDP}, nil
}

// ApplyRemoteDescription sets the remote description and flushes candidates
// that arrived before it.
func (l *Link) ApplyRemoteDescription(desc domain.SDPPayload) error {
	sdpType := pion.SDPTypeAnswer
	if desc.Type == "offer" {
		sdpType = pion.SDPTypeOffer
	}

	if err := l.pc.SetRemoteDescription(pion.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.addCandidate(c); err != nil {
			l.log.Warn().Err(err).Msg("flush pending candidate")
		}
	}
	return nil
}

// AddRemoteCandidate adds one remote candidate. Candidates arriving before
// the remote description are held and flushed when it is applied.
func (l *Link) AddRemoteCandidate(candidate domain.ICECandidatePayload) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.addCandidate(candidate)
}

func (l *Link) addCandidate(candidate domain.ICECandidatePayload) error {
	mid := candidate.SDPMid
	mline := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mline,
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// RestartICE produces a new offer with an ICE restart, for in-place recovery
// after transient loss.
func (l *Link) RestartICE(ctx context.Context) (domain.SDPPayload, error) {
	offer, err := l.pc.CreateOffer(&pion.OfferOptions{ICERestart: true})
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create restart offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

// Close shuts down the peer connection. Idempotent: closing an already
// closed link is a no-op.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		if err := l.pc.Close(); err != nil {
			l.log.Warn().Err(err).Msg("close peer connection")
		}
		close(l.events)
	})
}

func (l *Link) push(ev domain.LinkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn().Str("liveness", string(ev.Liveness)).Msg("event dropped, consumer stalled")
	}
}

func (l *Link) classifyRoute() domain.RouteClass {
	sctp := l.pc.SCTP()
	if sctp == nil || sctp.Transport() == nil || sctp.Transport().ICETransport() == nil {
		return domain.RouteUnknown
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return domain.RouteUnknown
	}
	return routeFromPair(pair.Local, pair.Remote)
}

// routeFromPair classifies the winning candidate pair: a relay candidate on
// either side means relayed media, anything else is direct.
func routeFromPair(local, remote *pion.ICECandidate) domain.RouteClass {
	if local == nil || remote == nil {
		return domain.RouteUnknown
	}
	if local.Typ == pion.ICECandidateTypeRelay || remote.Typ == pion.ICECandidateTypeRelay {
		return domain.RouteRelay
	}
	return domain.RouteDirect
}

func liveness(state pion.PeerConnectionState) domain.Liveness {
	switch state {
	case pion.PeerConnectionStateNew:
		return domain.LivenessNew
	case pion.PeerConnectionStateConnecting:
		return domain.LivenessConnecting
	case pion.PeerConnectionStateConnected:
		return domain.LivenessConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.LivenessDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.LivenessFailed
	case pion.PeerConnectionStateClosed:
		return domain.LivenessClosed
	}
	return domain.LivenessNew
}
