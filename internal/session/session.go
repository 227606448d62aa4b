package session

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
	"github.com/callvault/callkit/internal/metrics"
)

// Session states. Ended is terminal; an explicit hangup or fatal error moves
// there from any state.
const (
	StateIdle         = "idle"
	StateRequesting   = "requesting"
	StateOffering     = "offering"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateEnded        = "ended"
)

type role int

const (
	roleCaller role = iota
	roleCallee
)

// OutcomeKind tags the terminal and user-visible results a session reports
// to the collaborator layer. Retryable errors never appear here; they are
// absorbed by the retry ladders.
type OutcomeKind string

const (
	OutcomeConnected       OutcomeKind = "connected"
	OutcomeEnded           OutcomeKind = "ended"
	OutcomeUpgradeRequired OutcomeKind = "upgrade_required"
	OutcomeDegraded        OutcomeKind = "degraded"
)

// Outcome is one collaborator-visible session result.
type Outcome struct {
	Kind      OutcomeKind
	Route     domain.RouteClass
	Reason    domain.Reason
	Retryable bool
}

// AudioController drives session-bound audio cues (ringback). Owned by and
// lifecycle-bound to the session; Start/Stop fire only on defined state
// transitions.
type AudioController interface {
	Start()
	Stop()
}

// NopAudio is the default controller.
type NopAudio struct{}

func (NopAudio) Start() {}
func (NopAudio) Stop()  {}

// Config wires a session's collaborators and tunables.
type Config struct {
	LocalParty domain.Party

	Tokens domain.TokenFetcher
	Signal domain.Signaler
	Links  domain.LinkFactory
	Media  domain.MediaSource
	Signer domain.Signer
	Audio  AudioController

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	TokenRetry      domain.RetryPolicy
	MaxReconnects   int
	StunFailTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Signer == nil {
		c.Signer = domain.NopSigner{}
	}
	if c.Audio == nil {
		c.Audio = NopAudio{}
	}
	if c.TokenRetry.MaxAttempts == 0 {
		c.TokenRetry = domain.DefaultRetryPolicy()
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 3
	}
	if c.StunFailTimeout == 0 {
		c.StunFailTimeout = 8 * time.Second
	}
}

// Session is the 1:1 call orchestrator: an actor owning one peer link, the
// token retry ladder, the pre-readiness signaling buffer, the STUN-fail
// timer and the bounded reconnect policy. All state below the mutex-free
// comment is touched only by the run loop.
type Session struct {
	id     string
	local  domain.Party
	remote domain.Party
	role   role

	cfg Config
	sm  *fsm.FSM
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events   chan event
	done     chan struct{}
	endOnce  sync.Once
	outcomes chan Outcome

	// run-loop owned state.
	video          bool
	token          *domain.CallSessionToken
	link           domain.Link
	linkGen        int
	media          domain.LocalMedia
	buffer         []domain.Envelope
	bufferOpen     bool
	tokenAttempts  int
	reconnects     int
	counted        bool
	fallbackDone   bool
	upgradeEmitted bool
	route          domain.RouteClass
	startedAt      time.Time
	stunTimer      *time.Timer
	stunGen        int
	retryTimer     *time.Timer
}

const bufferLimit = 256

// New creates an outbound (caller) session toward remote.
func New(cfg Config, remote domain.Party, video bool) *Session {
	return newSession(cfg, domain.NewSessionID(), remote, video, roleCaller)
}

// NewInbound creates a session for a received call:init invite. The session
// stays idle until Accept or Reject.
func NewInbound(cfg Config, invite domain.Envelope) *Session {
	return newSession(cfg, invite.SessionID, invite.From, invite.Video, roleCallee)
}

func newSession(cfg Config, id string, remote domain.Party, video bool, r role) *Session {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:         id,
		local:      cfg.LocalParty,
		remote:     remote,
		role:       r,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan event, 32),
		done:       make(chan struct{}),
		outcomes:   make(chan Outcome, 16),
		video:      video,
		bufferOpen: true,
		route:      domain.RouteUnknown,
		log: cfg.Logger.With().
			Str("component", "session").
			Str("session", id).
			Str("remote", remote.String()).
			Logger(),
	}

	s.sm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "request", Src: []string{StateIdle}, Dst: StateRequesting},
			{Name: "offer", Src: []string{StateRequesting}, Dst: StateOffering},
			{Name: "negotiate", Src: []string{StateRequesting, StateOffering}, Dst: StateConnecting},
			{Name: "establish", Src: []string{StateConnecting, StateReconnecting}, Dst: StateConnected},
			{Name: "degrade", Src: []string{StateConnected}, Dst: StateReconnecting},
			{Name: "end", Src: []string{
				StateIdle, StateRequesting, StateOffering,
				StateConnecting, StateConnected, StateReconnecting,
			}, Dst: StateEnded},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("state transition")
			},
		},
	)

	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Remote returns the remote party.
func (s *Session) Remote() domain.Party { return s.remote }

// State returns the current machine state.
func (s *Session) State() string { return s.sm.Current() }

// Outcomes is the stream of collaborator-visible results.
func (s *Session) Outcomes() <-chan Outcome { return s.outcomes }

// Done closes when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Initiate starts the outbound handshake.
func (s *Session) Initiate() { s.post(evInitiate{}) }

// Accept answers an inbound invite.
func (s *Session) Accept() { s.post(evAccept{}) }

// Reject declines an inbound invite.
func (s *Session) Reject() { s.post(evReject{}) }

// Hangup ends the call locally. Safe to call at any time, any number of
// times.
func (s *Session) Hangup() { s.post(evHangup{reason: domain.ReasonHangup}) }

// Deliver hands an incoming signaling envelope to the session. Envelopes
// are processed strictly in delivery order.
func (s *Session) Deliver(env domain.Envelope) { s.post(evEnvelope{env: env}) }

func (s *Session) post(ev event) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// event is the tagged union consumed by the run loop.
type event interface{ isEvent() }

type evInitiate struct{}
type evAccept struct{}
type evReject struct{}
type evHangup struct{ reason domain.Reason }
type evEnvelope struct{ env domain.Envelope }
type evTokenResult struct {
	attempt int
	token   *domain.CallSessionToken
	err     error
}
type evTokenRetry struct{ attempt int }
type evStunTimeout struct{ gen int }
type evLink struct {
	gen int
	ev  domain.LinkEvent
}

func (evInitiate) isEvent()    {}
func (evAccept) isEvent()      {}
func (evReject) isEvent()      {}
func (evHangup) isEvent()      {}
func (evEnvelope) isEvent()    {}
func (evTokenResult) isEvent() {}
func (evTokenRetry) isEvent()  {}
func (evStunTimeout) isEvent() {}
func (evLink) isEvent()        {}
