package session

import (
	"context"
	"time"

	"github.com/callvault/callkit/internal/domain"
)

// endSession drives the terminal transition. Teardown runs exactly once and
// in a fixed order: cancel timers, stop and release local media, close the
// peer link, clear the signaling buffer, then notify the remote party
// best-effort. Local hangup and remote termination can race to call this;
// the second caller is a no-op.
func (s *Session) endSession(reason domain.Reason, retryable, notifyRemote bool) {
	if s.sm.Current() == StateEnded {
		return
	}

	s.endOnce.Do(func() {
		_ = s.sm.Event(context.Background(), "end")

		// 1. timers and in-flight async work
		s.stopStunTimer()
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		s.cancel()
		s.cfg.Audio.Stop()

		// 2. local media
		if s.media != nil {
			s.media.Release()
		}

		// 3. peer link
		if s.link != nil {
			s.link.Close()
			s.link = nil
		}

		// 4. signaling buffer
		s.buffer = nil
		s.bufferOpen = false

		// 5. best-effort remote notification
		if notifyRemote {
			if err := s.cfg.Signal.Send(domain.Envelope{
				Type:      domain.EnvCallEnd,
				SessionID: s.id,
				From:      s.local,
				To:        s.remote,
				Reason:    reason,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				s.log.Debug().Err(err).Msg("end notification not delivered")
			}
		}

		// only sessions counted as started balance the ended counter and gauge
		if s.counted {
			s.cfg.Metrics.CallEnded(string(reason))
		}
		s.log.Info().Str("reason", string(reason)).Msg("session ended")

		s.emit(Outcome{Kind: OutcomeEnded, Reason: reason, Retryable: retryable, Route: s.route})
		close(s.done)
	})
}

// emit hands an outcome to the collaborator without ever blocking the run
// loop.
func (s *Session) emit(o Outcome) {
	select {
	case s.outcomes <- o:
	default:
		s.log.Warn().Str("kind", string(o.Kind)).Msg("outcome dropped, consumer stalled")
	}
}
