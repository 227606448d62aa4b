package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// Waiting tracks inbound call offers that arrive while a session is
// connected, plus the single hold/resume relationship of the active call.
type Waiting struct {
	local  domain.Party
	signal domain.Signaler
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[domain.Party]domain.Envelope
	onHold  bool
	holder  domain.Party
}

// NewWaiting creates the coordinator.
func NewWaiting(local domain.Party, signal domain.Signaler, logger zerolog.Logger) *Waiting {
	return &Waiting{
		local:   local,
		signal:  signal,
		log:     logger.With().Str("component", "waiting").Logger(),
		pending: make(map[domain.Party]domain.Envelope),
	}
}

// Offer records a pending inbound invite, de-duplicated by remote party, and
// tells the offering party the callee is busy. Returns false for a
// duplicate.
func (w *Waiting) Offer(invite domain.Envelope) bool {
	w.mu.Lock()
	if _, dup := w.pending[invite.From]; dup {
		w.mu.Unlock()
		return false
	}
	w.pending[invite.From] = invite
	w.mu.Unlock()

	if err := w.signal.Send(domain.Envelope{
		Type:      domain.EnvCallWaiting,
		SessionID: invite.SessionID,
		From:      w.local,
		To:        invite.From,
	}); err != nil {
		w.log.Warn().Err(err).Msg("send call:waiting")
	}
	w.log.Info().Str("from", invite.From.String()).Msg("call waiting")
	return true
}

// Pending lists the parties with an outstanding invite.
func (w *Waiting) Pending() []domain.Party {
	w.mu.Lock()
	defer w.mu.Unlock()
	parties := make([]domain.Party, 0, len(w.pending))
	for p := range w.pending {
		parties = append(parties, p)
	}
	return parties
}

// Take removes and returns the pending invite from the given party.
func (w *Waiting) Take(party domain.Party) (domain.Envelope, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	invite, ok := w.pending[party]
	if ok {
		delete(w.pending, party)
	}
	return invite, ok
}

// Hold puts the current remote on hold with a single control envelope.
func (w *Waiting) Hold(sessionID string, current domain.Party) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.onHold {
		return nil
	}
	if err := w.signal.Send(domain.Envelope{
		Type:      domain.EnvCallHold,
		SessionID: sessionID,
		From:      w.local,
		To:        current,
	}); err != nil {
		return err
	}
	w.onHold = true
	w.holder = current
	return nil
}

// Resume lifts the hold with a single control envelope.
func (w *Waiting) Resume(sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.onHold {
		return nil
	}
	if err := w.signal.Send(domain.Envelope{
		Type:      domain.EnvCallResume,
		SessionID: sessionID,
		From:      w.local,
		To:        w.holder,
	}); err != nil {
		return err
	}
	w.onHold = false
	w.holder = ""
	return nil
}

// OnHold reports the hold flag and holder identity.
func (w *Waiting) OnHold() (bool, domain.Party) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onHold, w.holder
}

// Clear drops all pending invites and the hold state. Called on session end.
func (w *Waiting) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = make(map[domain.Party]domain.Envelope)
	w.onHold = false
	w.holder = ""
}
