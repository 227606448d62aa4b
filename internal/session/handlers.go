package session

import (
	"encoding/json"
	"time"

	"github.com/callvault/callkit/internal/domain"
)

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case evInitiate:
		s.handleInitiate()
	case evAccept:
		s.handleAccept()
	case evReject:
		s.handleReject()
	case evHangup:
		s.endSession(ev.reason, false, true)
	case evEnvelope:
		s.handleEnvelope(ev.env)
	case evTokenResult:
		s.handleTokenResult(ev)
	case evTokenRetry:
		s.handleTokenRetry(ev)
	case evStunTimeout:
		s.handleStunTimeout(ev)
	case evLink:
		s.handleLinkEvent(ev)
	}
}

// --- handshake ---

func (s *Session) handleInitiate() {
	if s.sm.Current() != StateIdle || s.role != roleCaller {
		return
	}
	if err := s.sm.Event(s.ctx, "request"); err != nil {
		return
	}
	s.cfg.Metrics.CallStarted()
	s.counted = true
	s.tokenAttempts = 0
	s.acquireToken(1)
}

func (s *Session) handleAccept() {
	if s.sm.Current() != StateIdle || s.role != roleCallee {
		return
	}
	if err := s.sm.Event(s.ctx, "request"); err != nil {
		return
	}
	s.cfg.Metrics.CallStarted()
	s.counted = true
	s.tokenAttempts = 0
	s.acquireToken(1)
}

func (s *Session) handleReject() {
	if s.role != roleCallee || s.sm.Current() != StateIdle {
		return
	}
	_ = s.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvCallReject,
		SessionID: s.id,
		From:      s.local,
		To:        s.remote,
		Reason:    domain.ReasonRejected,
	})
	s.endSession(domain.ReasonRejected, false, false)
}

// acquireToken runs one token fetch off the loop and posts the result back.
func (s *Session) acquireToken(attempt int) {
	go func() {
		tok, err := s.cfg.Tokens.Acquire(s.ctx, s.local, s.remote)
		s.post(evTokenResult{attempt: attempt, token: tok, err: err})
	}()
}

func (s *Session) handleTokenResult(ev evTokenResult) {
	if s.sm.Current() != StateRequesting {
		return
	}
	s.tokenAttempts = ev.attempt

	if ev.err != nil {
		if domain.IsRetryable(ev.err) && !s.cfg.TokenRetry.Exhausted(ev.attempt+1) {
			// silent retry; nothing surfaces to the collaborator yet
			s.cfg.Metrics.TokenRetry()
			delay := s.cfg.TokenRetry.Delay(ev.attempt)
			s.log.Debug().Int("attempt", ev.attempt).Dur("delay", delay).Err(ev.err).Msg("token retry scheduled")
			next := ev.attempt + 1
			s.retryTimer = time.AfterFunc(delay, func() {
				s.post(evTokenRetry{attempt: next})
			})
			return
		}
		s.log.Warn().Int("attempts", ev.attempt).Err(ev.err).Msg("token acquisition failed")
		retryable := domain.IsRetryable(ev.err)
		s.endSession(domain.ReasonHandshakeFailed, retryable, false)
		return
	}

	s.token = ev.token

	switch s.role {
	case roleCaller:
		s.sendCallInit()
	case roleCallee:
		s.sendCallAccept()
	}
}

func (s *Session) handleTokenRetry(ev evTokenRetry) {
	if s.sm.Current() != StateRequesting {
		return
	}
	s.acquireToken(ev.attempt)
}

func (s *Session) sendCallInit() {
	intent, _ := json.Marshal(map[string]any{
		"sessionId": s.id,
		"from":      s.local,
		"to":        s.remote,
		"video":     s.video,
		"nonce":     s.token.Nonce,
		"timestamp": time.Now().Add(s.token.ClockOffset()).UnixMilli(),
	})
	sig, err := s.cfg.Signer.Sign(intent)
	if err != nil {
		s.endSession(domain.ReasonSignatureInvalid, false, false)
		return
	}

	err = s.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvCallInit,
		SessionID: s.id,
		From:      s.local,
		To:        s.remote,
		Token:     s.token.Token,
		Nonce:     s.token.Nonce,
		Signature: sig,
		Video:     s.video,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("send call:init")
		s.endSession(domain.ReasonHandshakeFailed, false, false)
		return
	}

	if err := s.sm.Event(s.ctx, "offer"); err != nil {
		return
	}
	s.cfg.Audio.Start() // ringback while awaiting answer
}

func (s *Session) sendCallAccept() {
	err := s.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvCallAccept,
		SessionID: s.id,
		From:      s.local,
		To:        s.remote,
	})
	if err != nil {
		s.endSession(domain.ReasonHandshakeFailed, false, false)
		return
	}
	// the callee answers; the caller's offer may already sit in the buffer
	s.startConnecting(false)
}

// --- envelopes ---

func (s *Session) handleEnvelope(env domain.Envelope) {
	if s.sm.Current() == StateEnded {
		return
	}

	if env.IsNegotiation() {
		if s.link == nil {
			if s.bufferOpen {
				if len(s.buffer) >= bufferLimit {
					s.log.Warn().Msg("signaling buffer full, dropping oldest")
					s.buffer = s.buffer[1:]
				}
				s.buffer = append(s.buffer, env)
			}
			return
		}
		s.processNegotiation(env)
		return
	}

	switch env.Type {
	case domain.EnvCallAccept:
		s.handleRemoteAccept()
	case domain.EnvCallReject:
		s.endSession(domain.ReasonRejected, false, false)
	case domain.EnvCallEnd:
		s.endSession(domain.ReasonRemoteEnded, false, false)
	case domain.EnvError:
		s.handleErrorEnvelope(env)
	case domain.EnvCallHold, domain.EnvCallResume, domain.EnvCallWaiting:
		s.log.Debug().Str("type", string(env.Type)).Msg("control envelope")
	default:
		s.log.Debug().Str("type", string(env.Type)).Msg("unhandled envelope")
	}
}

func (s *Session) handleRemoteAccept() {
	if s.sm.Current() != StateOffering || s.role != roleCaller {
		return
	}
	s.startConnecting(true)
}

func (s *Session) handleErrorEnvelope(env domain.Envelope) {
	switch env.Reason {
	case domain.ReasonPeerOffline, domain.ReasonBlocked:
		s.endSession(env.Reason, false, false)
	default:
		s.log.Warn().Str("reason", string(env.Reason)).Str("message", env.Message).Msg("signaling error")
	}
}

// processNegotiation applies one description or candidate envelope to the
// live link. Called directly for post-readiness arrivals and from the drain
// for buffered ones; each envelope is applied exactly once.
func (s *Session) processNegotiation(env domain.Envelope) {
	switch env.Type {
	case domain.EnvOffer:
		if env.SDP == nil {
			return
		}
		answer, err := s.link.CreateAnswer(s.ctx, *env.SDP)
		if err != nil {
			s.log.Error().Err(err).Msg("create answer")
			return
		}
		if err := s.cfg.Signal.Send(domain.Envelope{
			Type:      domain.EnvAnswer,
			SessionID: s.id,
			From:      s.local,
			To:        s.remote,
			SDP:       &answer,
		}); err != nil {
			s.log.Error().Err(err).Msg("send answer")
		}
	case domain.EnvAnswer:
		if env.SDP == nil {
			return
		}
		if err := s.link.ApplyRemoteDescription(*env.SDP); err != nil {
			s.log.Error().Err(err).Msg("apply remote description")
		}
	case domain.EnvICE:
		if env.Candidate == nil {
			return
		}
		if err := s.link.AddRemoteCandidate(*env.Candidate); err != nil {
			s.log.Warn().Err(err).Msg("add remote candidate")
		}
	}
}

// --- connectivity ---

// startConnecting builds the first (direct-only) peer link, sends the offer
// when this side initiates, and drains the signaling buffer.
func (s *Session) startConnecting(initiator bool) {
	if err := s.ensureMedia(); err != nil {
		return
	}
	if err := s.buildLink(true); err != nil {
		s.endSession(domain.ReasonHandshakeFailed, false, true)
		return
	}
	if err := s.sm.Event(s.ctx, "negotiate"); err != nil {
		return
	}
	s.startStunTimer()

	if initiator {
		s.sendOffer()
	}
	s.drainBuffer()
}

func (s *Session) sendOffer() {
	offer, err := s.link.CreateOffer(s.ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("create offer")
		s.endSession(domain.ReasonHandshakeFailed, false, true)
		return
	}
	if err := s.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvOffer,
		SessionID: s.id,
		From:      s.local,
		To:        s.remote,
		SDP:       &offer,
	}); err != nil {
		s.log.Error().Err(err).Msg("send offer")
		s.endSession(domain.ReasonHandshakeFailed, false, true)
	}
}

// ensureMedia acquires local capture once per session, degrading a video
// call to audio-only when only the camera is unavailable.
func (s *Session) ensureMedia() error {
	if s.media != nil {
		return nil
	}
	m, err := s.cfg.Media.Acquire(s.ctx, s.video)
	if err != nil && s.video {
		s.log.Warn().Err(err).Msg("video capture unavailable, degrading to audio")
		m, err = s.cfg.Media.Acquire(s.ctx, false)
		if err == nil {
			s.video = false
			s.emit(Outcome{Kind: OutcomeDegraded, Reason: domain.ReasonMediaDenied})
		}
	}
	if err != nil {
		s.endSession(domain.ReasonMediaDenied, false, true)
		return err
	}
	s.media = m
	return nil
}

func (s *Session) buildLink(directOnly bool) error {
	l, err := s.cfg.Links.NewLink(domain.LinkConfig{
		Remote:     s.remote,
		ICEServers: s.token.ICEServers,
		DirectOnly: directOnly,
		Media:      s.media,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("build link")
		return err
	}

	l.OnCandidate(func(c domain.ICECandidatePayload) {
		if err := s.cfg.Signal.Send(domain.Envelope{
			Type:      domain.EnvICE,
			SessionID: s.id,
			From:      s.local,
			To:        s.remote,
			Candidate: &c,
		}); err != nil {
			s.log.Warn().Err(err).Msg("forward candidate")
		}
	})

	s.linkGen++
	gen := s.linkGen
	go func() {
		for ev := range l.Events() {
			s.post(evLink{gen: gen, ev: ev})
		}
	}()

	s.link = l
	return nil
}

// drainBuffer replays pre-readiness envelopes strictly in arrival order,
// then disables buffering for the rest of the session's life.
func (s *Session) drainBuffer() {
	buffered := s.buffer
	s.buffer = nil
	s.bufferOpen = false
	for _, env := range buffered {
		s.processNegotiation(env)
	}
}

func (s *Session) handleLinkEvent(ev evLink) {
	if ev.gen != s.linkGen {
		return // stale event from a replaced link
	}

	switch ev.ev.Liveness {
	case domain.LivenessConnected:
		s.handleConnected(ev.ev.Route)
	case domain.LivenessDisconnected, domain.LivenessFailed:
		s.handleLinkLoss(ev.ev.Liveness)
	}
}

func (s *Session) handleConnected(route domain.RouteClass) {
	state := s.sm.Current()
	if state != StateConnecting && state != StateReconnecting {
		return
	}

	s.stopStunTimer()
	if route != domain.RouteUnknown {
		s.route = route
	}

	if err := s.sm.Event(s.ctx, "establish"); err != nil {
		return
	}
	s.cfg.Audio.Stop()

	if state == StateReconnecting {
		s.log.Info().Str("route", string(s.route)).Msg("reconnected")
		s.reconnects = 0
		return
	}

	s.startedAt = time.Now()
	s.reconnects = 0
	s.cfg.Metrics.CallConnected(string(s.route))
	s.log.Info().Str("route", string(s.route)).Msg("call connected")
	s.emit(Outcome{Kind: OutcomeConnected, Route: s.route})
}

func (s *Session) handleLinkLoss(liveness domain.Liveness) {
	switch s.sm.Current() {
	case StateConnected:
		s.log.Warn().Str("liveness", string(liveness)).Msg("connection lost, reconnecting")
		if err := s.sm.Event(s.ctx, "degrade"); err != nil {
			return
		}
		s.attemptReconnect()
	case StateReconnecting:
		if liveness == domain.LivenessFailed {
			s.stopStunTimer()
			s.attemptReconnect()
		}
	case StateConnecting:
		// a hard ICE failure while still connecting is the timer condition
		// arriving early
		if liveness == domain.LivenessFailed {
			s.stopStunTimer()
			s.handleConnectTimeout()
		}
	}
}

// --- timers, fallback, reconnect ---

func (s *Session) startStunTimer() {
	s.stopStunTimer()
	s.stunGen++
	gen := s.stunGen
	s.stunTimer = time.AfterFunc(s.cfg.StunFailTimeout, func() {
		s.post(evStunTimeout{gen: gen})
	})
}

func (s *Session) stopStunTimer() {
	if s.stunTimer != nil {
		s.stunTimer.Stop()
		s.stunTimer = nil
	}
	s.stunGen++
}

func (s *Session) handleStunTimeout(ev evStunTimeout) {
	if ev.gen != s.stunGen {
		return
	}
	switch s.sm.Current() {
	case StateConnecting:
		s.handleConnectTimeout()
	case StateReconnecting:
		s.attemptReconnect()
	}
}

// handleConnectTimeout is the direct-first / relay-fallback decision point.
// The relay rebuild runs at most once per session; without relay entitlement
// the session stays connecting and reports UpgradeRequired exactly once.
func (s *Session) handleConnectTimeout() {
	if s.fallbackDone {
		s.endSession(domain.ReasonICEFailed, false, true)
		return
	}

	if !s.token.AllowTurn || !s.token.TurnConfigured {
		if !s.upgradeEmitted {
			s.upgradeEmitted = true
			s.log.Info().Msg("direct connectivity failed, relay not entitled")
			s.emit(Outcome{Kind: OutcomeUpgradeRequired})
		}
		return
	}

	s.fallbackDone = true
	s.cfg.Metrics.RelayFallback()
	s.log.Info().Msg("direct connectivity failed, rebuilding with relay")

	if err := s.rebuildLink(false); err != nil {
		s.endSession(domain.ReasonReconnectsSpent, false, true)
		return
	}
	s.startStunTimer()
	s.sendOffer()
}

// rebuildLink tears down the current link and constructs a replacement,
// reusing the already-acquired media.
func (s *Session) rebuildLink(directOnly bool) error {
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	return s.buildLink(directOnly)
}

func (s *Session) attemptReconnect() {
	s.reconnects++
	if s.reconnects > s.cfg.MaxReconnects {
		s.endSession(domain.ReasonReconnectsSpent, false, true)
		return
	}
	s.cfg.Metrics.Reconnect()
	s.log.Info().Int("attempt", s.reconnects).Msg("reconnect attempt")

	// in-place ICE restart first, full rebuild as the fallback
	offer, err := s.link.RestartICE(s.ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("ICE restart unsupported, rebuilding link")
		directOnly := s.route != domain.RouteRelay
		if err := s.rebuildLink(directOnly); err != nil {
			s.endSession(domain.ReasonReconnectsSpent, false, true)
			return
		}
		var buildErr error
		offer, buildErr = s.link.CreateOffer(s.ctx)
		if buildErr != nil {
			s.endSession(domain.ReasonReconnectsSpent, false, true)
			return
		}
	}

	if err := s.cfg.Signal.Send(domain.Envelope{
		Type:      domain.EnvOffer,
		SessionID: s.id,
		From:      s.local,
		To:        s.remote,
		SDP:       &offer,
	}); err != nil {
		s.log.Error().Err(err).Msg("send reconnect offer")
		s.endSession(domain.ReasonReconnectsSpent, false, true)
		return
	}
	s.startStunTimer()
}
