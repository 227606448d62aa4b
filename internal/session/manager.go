package session

import (
	"sync"

	"github.com/callvault/callkit/internal/domain"
)

// Manager owns the 1:1 sessions of one local party: it creates outbound
// sessions, turns inbound invites into sessions (or call-waiting entries
// when a call is already up), and routes envelopes to their session by id.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	active   *Session

	waiting  *Waiting
	onInvite func(*Session, domain.Envelope)
}

// NewManager creates a manager from the session config template. onInvite is
// called for each fresh inbound invite; the collaborator decides whether to
// Accept or Reject the passed session.
func NewManager(cfg Config, onInvite func(*Session, domain.Envelope)) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		waiting:  NewWaiting(cfg.LocalParty, cfg.Signal, cfg.Logger),
		onInvite: onInvite,
	}
}

// Waiting exposes the call-waiting/hold coordinator.
func (m *Manager) Waiting() *Waiting { return m.waiting }

// Call starts an outbound session toward remote.
func (m *Manager) Call(remote domain.Party, video bool) *Session {
	s := New(m.cfg, remote, video)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	if m.active == nil {
		m.active = s
	}
	m.mu.Unlock()

	m.reapOnDone(s)
	s.Initiate()
	return s
}

// Dispatch routes one incoming envelope. Envelopes for unknown sessions are
// dropped; a call:init while a call is connected becomes a call-waiting
// entry instead of a session.
func (m *Manager) Dispatch(env domain.Envelope) {
	if env.Type == domain.EnvCallInit {
		m.handleInvite(env)
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[env.SessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Deliver(env)
}

func (m *Manager) handleInvite(env domain.Envelope) {
	m.mu.Lock()
	busy := m.active != nil && m.active.State() == StateConnected
	m.mu.Unlock()

	if busy {
		m.waiting.Offer(env)
		return
	}

	s := NewInbound(m.cfg, env)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	if m.active == nil {
		m.active = s
	}
	m.mu.Unlock()

	m.reapOnDone(s)
	if m.onInvite != nil {
		m.onInvite(s, env)
	}
}

// AcceptWaiting promotes a pending call-waiting invite into a session.
func (m *Manager) AcceptWaiting(party domain.Party) (*Session, bool) {
	invite, ok := m.waiting.Take(party)
	if !ok {
		return nil, false
	}

	s := NewInbound(m.cfg, invite)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.reapOnDone(s)
	s.Accept()
	return s, true
}

// Shutdown hangs up every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}
}

func (m *Manager) reapOnDone(s *Session) {
	go func() {
		<-s.Done()
		m.mu.Lock()
		delete(m.sessions, s.ID())
		if m.active == s {
			m.active = nil
		}
		m.mu.Unlock()
		m.waiting.Clear()
	}()
}
