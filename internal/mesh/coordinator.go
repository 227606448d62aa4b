package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
	"github.com/callvault/callkit/internal/metrics"
)

// Config wires a room coordinator's collaborators.
type Config struct {
	RoomID string
	Local  domain.Party
	Video  bool

	Token  *domain.CallSessionToken
	Links  domain.LinkFactory
	Signal domain.Signaler
	Media  domain.MediaSource

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// peer is one mesh neighbour: exactly one link per remote participant.
type peer struct {
	link      domain.Link
	gen       int
	initiator bool
	route     domain.RouteClass
}

// Coordinator keeps the full-mesh invariant for one group room: every
// remote participant has exactly one peer link, negotiated in exactly one
// direction. The joiner initiates toward all incumbents; incumbents answer.
// When two simultaneous joiners each see the other as an incumbent, the
// lexicographically smaller address initiates.
type Coordinator struct {
	cfg Config
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events  chan event
	done    chan struct{}
	endOnce sync.Once

	// run-loop owned state.
	host         domain.Party
	participants map[domain.Party]struct{}
	peers        map[domain.Party]*peer
	linkGen      int
	media        domain.LocalMedia
}

type event interface{ isEvent() }

type evEnvelope struct{ env domain.Envelope }
type evCreate struct{}
type evJoin struct{}
type evInvite struct{ guest domain.Party }
type evLeave struct{ reason domain.Reason }
type evLink struct {
	party domain.Party
	gen   int
	ev    domain.LinkEvent
}

func (evEnvelope) isEvent() {}
func (evCreate) isEvent()   {}
func (evJoin) isEvent()     {}
func (evInvite) isEvent()   {}
func (evLeave) isEvent()    {}
func (evLink) isEvent()     {}

// NewCoordinator creates the coordinator for one room. Start it with Create
// or Join.
func NewCoordinator(cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan event, 32),
		done:         make(chan struct{}),
		participants: make(map[domain.Party]struct{}),
		peers:        make(map[domain.Party]*peer),
		log: cfg.Logger.With().
			Str("component", "mesh").
			Str("room", cfg.RoomID).
			Str("party", cfg.Local.String()).
			Logger(),
	}
	go c.run()
	return c
}

// RoomID returns the room identifier.
func (c *Coordinator) RoomID() string { return c.cfg.RoomID }

// Done closes when the room is torn down.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Create registers a new room with the local party as host. The room holds
// zero links until others join.
func (c *Coordinator) Create() { c.post(evCreate{}) }

// Join announces the local party to an existing room.
func (c *Coordinator) Join() { c.post(evJoin{}) }

// Invite asks guest to join the room. The guest decides whether to Join; no
// link is created until they announce themselves.
func (c *Coordinator) Invite(guest domain.Party) { c.post(evInvite{guest: guest}) }

// Leave exits the room, closing every link. Idempotent.
func (c *Coordinator) Leave() { c.post(evLeave{reason: domain.ReasonHangup}) }

// Deliver hands a room or mesh envelope to the coordinator.
func (c *Coordinator) Deliver(env domain.Envelope) { c.post(evEnvelope{env: env}) }

func (c *Coordinator) send(env domain.Envelope) {
	if err := c.cfg.Signal.Send(env); err != nil {
		c.log.Error().Err(err).Str("type", string(env.Type)).Msg("send envelope")
	}
}

func (c *Coordinator) post(ev event) {
	select {
	case <-c.done:
	case c.events <- ev:
	}
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev := ev.(type) {
	case evCreate:
		c.handleCreate()
	case evJoin:
		c.handleJoin()
	case evInvite:
		c.handleInvite(ev.guest)
	case evLeave:
		c.teardown(true)
	case evEnvelope:
		c.handleEnvelope(ev.env)
	case evLink:
		c.handleLinkEvent(ev)
	case evInspect:
		ev.res <- len(c.peers)
	}
}

func (c *Coordinator) handleCreate() {
	c.host = c.cfg.Local
	if !c.ensureMedia() {
		return
	}
	if err := c.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvRoomCreate,
		RoomID:    c.cfg.RoomID,
		From:      c.cfg.Local,
		Video:     c.cfg.Video,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		c.log.Error().Err(err).Msg("send room:create")
		c.teardown(false)
	}
}

func (c *Coordinator) handleJoin() {
	if !c.ensureMedia() {
		return
	}
	if err := c.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvRoomJoin,
		RoomID:    c.cfg.RoomID,
		From:      c.cfg.Local,
		Token:     c.cfg.Token.Token,
		Nonce:     c.cfg.Token.Nonce,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		c.log.Error().Err(err).Msg("send room:join")
		c.teardown(false)
	}
}

func (c *Coordinator) handleInvite(guest domain.Party) {
	if guest == "" || guest == c.cfg.Local {
		return
	}
	if err := c.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvRoomInvite,
		RoomID:    c.cfg.RoomID,
		From:      c.cfg.Local,
		To:        guest,
		Video:     c.cfg.Video,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		c.log.Warn().Err(err).Str("guest", guest.String()).Msg("send room:invite")
	}
}

func (c *Coordinator) ensureMedia() bool {
	if c.media != nil {
		return true
	}
	m, err := c.cfg.Media.Acquire(c.ctx, c.cfg.Video)
	if err != nil {
		c.log.Error().Err(err).Msg("acquire media")
		c.teardown(false)
		return false
	}
	c.media = m
	return true
}

func (c *Coordinator) handleEnvelope(env domain.Envelope) {
	switch env.Type {
	case domain.EnvRoomJoined:
		c.handleRoster(env)
	case domain.EnvRoomPeerJoined:
		c.handleParticipantJoined(env.Participant)
	case domain.EnvRoomPeerLeft:
		c.handleParticipantLeft(env.Participant)
	case domain.EnvRoomEnd:
		c.teardown(false)
	case domain.EnvMeshOffer:
		c.handleMeshOffer(env)
	case domain.EnvMeshAnswer:
		c.handleMeshAnswer(env)
	case domain.EnvMeshICE:
		c.handleMeshICE(env)
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("unhandled envelope")
	}
}

// handleRoster is the join acknowledgment: the joiner creates one link per
// incumbent and initiates toward each of them.
func (c *Coordinator) handleRoster(env domain.Envelope) {
	for _, p := range env.Roster {
		if p == c.cfg.Local {
			continue
		}
		c.participants[p] = struct{}{}
		if _, exists := c.peers[p]; exists {
			continue
		}
		c.initiateToward(p)
	}
}

// handleParticipantJoined is the incumbent side: exactly one new link,
// non-initiator, toward the newcomer. The link is created lazily here and
// negotiated when the newcomer's offer arrives.
func (c *Coordinator) handleParticipantJoined(newcomer domain.Party) {
	if newcomer == "" || newcomer == c.cfg.Local {
		return
	}
	c.participants[newcomer] = struct{}{}
	if _, exists := c.peers[newcomer]; exists {
		return
	}
	if _, err := c.ensurePeer(newcomer, false); err != nil {
		c.log.Error().Err(err).Str("peer", newcomer.String()).Msg("create link for newcomer")
	}
}

func (c *Coordinator) handleParticipantLeft(party domain.Party) {
	delete(c.participants, party)
	c.removePeer(party)
}

func (c *Coordinator) handleMeshOffer(env domain.Envelope) {
	if env.SDP == nil {
		return
	}
	from := env.From

	if p, exists := c.peers[from]; exists && p.initiator {
		// offer glare: both sides initiated. The lexicographically smaller
		// address wins; the loser replaces its link and answers.
		if c.cfg.Local < from {
			c.log.Debug().Str("peer", from.String()).Msg("ignoring glare offer, local initiates")
			return
		}
		c.removePeer(from)
	}

	p, err := c.ensurePeer(from, false)
	if err != nil {
		c.log.Error().Err(err).Str("peer", from.String()).Msg("create link for offer")
		return
	}

	answer, err := p.link.CreateAnswer(c.ctx, *env.SDP)
	if err != nil {
		c.log.Error().Err(err).Str("peer", from.String()).Msg("create answer")
		return
	}
	c.send(domain.Envelope{
		Type:   domain.EnvMeshAnswer,
		RoomID: c.cfg.RoomID,
		From:   c.cfg.Local,
		To:     from,
		SDP:    &answer,
	})
}

func (c *Coordinator) handleMeshAnswer(env domain.Envelope) {
	if env.SDP == nil {
		return
	}
	p, exists := c.peers[env.From]
	if !exists {
		return
	}
	if err := p.link.ApplyRemoteDescription(*env.SDP); err != nil {
		c.log.Error().Err(err).Str("peer", env.From.String()).Msg("apply answer")
	}
}

func (c *Coordinator) handleMeshICE(env domain.Envelope) {
	if env.Candidate == nil {
		return
	}
	p, err := c.ensurePeer(env.From, false)
	if err != nil {
		c.log.Error().Err(err).Str("peer", env.From.String()).Msg("create link for candidate")
		return
	}
	if err := p.link.AddRemoteCandidate(*env.Candidate); err != nil {
		c.log.Warn().Err(err).Str("peer", env.From.String()).Msg("add candidate")
	}
}

func (c *Coordinator) initiateToward(incumbent domain.Party) {
	p, err := c.ensurePeer(incumbent, true)
	if err != nil {
		c.log.Error().Err(err).Str("peer", incumbent.String()).Msg("create link")
		return
	}
	offer, err := p.link.CreateOffer(c.ctx)
	if err != nil {
		c.log.Error().Err(err).Str("peer", incumbent.String()).Msg("create offer")
		c.removePeer(incumbent)
		return
	}
	c.send(domain.Envelope{
		Type:   domain.EnvMeshOffer,
		RoomID: c.cfg.RoomID,
		From:   c.cfg.Local,
		To:     incumbent,
		SDP:    &offer,
	})
}

// ensurePeer returns the existing peer or builds a fresh link toward party.
// Candidates are forwarded point-to-point, never broadcast.
func (c *Coordinator) ensurePeer(party domain.Party, initiator bool) (*peer, error) {
	if p, exists := c.peers[party]; exists {
		return p, nil
	}

	l, err := c.cfg.Links.NewLink(domain.LinkConfig{
		Remote:     party,
		ICEServers: c.cfg.Token.ICEServers,
		DirectOnly: !c.cfg.Token.AllowTurn,
		Media:      c.media,
	})
	if err != nil {
		return nil, err
	}

	target := party
	l.OnCandidate(func(cand domain.ICECandidatePayload) {
		c.send(domain.Envelope{
			Type:      domain.EnvMeshICE,
			RoomID:    c.cfg.RoomID,
			From:      c.cfg.Local,
			To:        target,
			Candidate: &cand,
		})
	})

	c.linkGen++
	p := &peer{link: l, gen: c.linkGen, initiator: initiator, route: domain.RouteUnknown}
	c.peers[party] = p
	c.cfg.Metrics.MeshLinkOpened()

	gen := p.gen
	go func() {
		for ev := range l.Events() {
			c.post(evLink{party: target, gen: gen, ev: ev})
		}
	}()

	c.log.Debug().Str("peer", party.String()).Bool("initiator", initiator).Msg("peer link created")
	return p, nil
}

func (c *Coordinator) removePeer(party domain.Party) {
	p, exists := c.peers[party]
	if !exists {
		return
	}
	delete(c.peers, party)
	p.link.Close()
	c.cfg.Metrics.MeshLinkClosed()
	c.log.Debug().Str("peer", party.String()).Msg("peer link removed")
}

func (c *Coordinator) handleLinkEvent(ev evLink) {
	p, exists := c.peers[ev.party]
	if !exists || p.gen != ev.gen {
		return
	}

	switch ev.ev.Liveness {
	case domain.LivenessConnected:
		if ev.ev.Route != domain.RouteUnknown {
			p.route = ev.ev.Route
		}
		c.log.Info().Str("peer", ev.party.String()).Str("route", string(p.route)).Msg("mesh link connected")
	case domain.LivenessFailed:
		c.log.Warn().Str("peer", ev.party.String()).Msg("mesh link failed")
		c.removePeer(ev.party)
	}
}

// PeerCount reports the number of open links, read via the loop so callers
// never race link churn. For tests and introspection.
func (c *Coordinator) PeerCount() int {
	res := make(chan int, 1)
	select {
	case <-c.done:
		return 0
	case c.events <- evInspect{res}:
	}
	select {
	case n := <-res:
		return n
	case <-c.done:
		return 0
	}
}

type evInspect struct{ res chan int }

func (evInspect) isEvent() {}

// teardown closes every link, releases media and destroys the room. Runs at
// most once; notify sends the leave notice best-effort.
func (c *Coordinator) teardown(notify bool) {
	c.endOnce.Do(func() {
		if notify {
			env := domain.Envelope{
				RoomID:      c.cfg.RoomID,
				From:        c.cfg.Local,
				Participant: c.cfg.Local,
				Timestamp:   time.Now().UnixMilli(),
			}
			if c.host == c.cfg.Local {
				env.Type = domain.EnvRoomEnd
			} else {
				env.Type = domain.EnvRoomPeerLeft
			}
			if err := c.cfg.Signal.Send(env); err != nil {
				c.log.Debug().Err(err).Msg("leave notice not delivered")
			}
		}

		c.cancel()
		for party, p := range c.peers {
			p.link.Close()
			c.cfg.Metrics.MeshLinkClosed()
			delete(c.peers, party)
		}
		c.participants = make(map[domain.Party]struct{})
		if c.media != nil {
			c.media.Release()
		}

		c.log.Info().Msg("room torn down")
		close(c.done)
	})
}
