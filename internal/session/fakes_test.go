package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// fakeTokens scripts Acquire results: each entry is the error for one
// attempt, nil meaning success with the template token.
type fakeTokens struct {
	mu       sync.Mutex
	script   []error
	calls    int
	template domain.CallSessionToken
}

func (f *fakeTokens) Acquire(_ context.Context, _, _ domain.Party) (*domain.CallSessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	if err != nil {
		return nil, err
	}
	tok := f.template
	return &tok, nil
}

func (f *fakeTokens) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSignal records everything sent.
type fakeSignal struct {
	mu   sync.Mutex
	sent []domain.Envelope
	err  error
}

func (f *fakeSignal) Send(env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSignal) byType(t domain.EnvelopeType) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Envelope
	for _, e := range f.sent {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeLink is a scripted peer link.
type fakeLink struct {
	mu          sync.Mutex
	events      chan domain.LinkEvent
	closeOnce   sync.Once
	closeCalls  int
	offers      int
	restarts    int
	restartErr  error
	remoteDescs []domain.SDPPayload
	candidates  []domain.ICECandidatePayload
	onCandidate func(domain.ICECandidatePayload)
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan domain.LinkEvent, 16)}
}

func (f *fakeLink) CreateOffer(context.Context) (domain.SDPPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return domain.SDPPayload{Type: "offer", SDP: "offer-sdp"}, nil
}

func (f *fakeLink) CreateAnswer(_ context.Context, offer domain.SDPPayload) (domain.SDPPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, offer)
	return domain.SDPPayload{Type: "answer", SDP: "answer-sdp"}, nil
}

func (f *fakeLink) ApplyRemoteDescription(desc domain.SDPPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeLink) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeLink) RestartICE(context.Context) (domain.SDPPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return domain.SDPPayload{}, f.restartErr
	}
	f.restarts++
	return domain.SDPPayload{Type: "offer", SDP: "restart-sdp"}, nil
}

func (f *fakeLink) OnCandidate(fn func(domain.ICECandidatePayload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeLink) Events() <-chan domain.LinkEvent { return f.events }

func (f *fakeLink) Close() {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeLink) connect(route domain.RouteClass) {
	f.events <- domain.LinkEvent{Liveness: domain.LivenessConnected, Route: route}
}

func (f *fakeLink) fail() {
	f.events <- domain.LinkEvent{Liveness: domain.LivenessFailed, Route: domain.RouteUnknown}
}

func (f *fakeLink) recordedCandidates() []domain.ICECandidatePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ICECandidatePayload, len(f.candidates))
	copy(out, f.candidates)
	return out
}

func (f *fakeLink) recordedDescs() []domain.SDPPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SDPPayload, len(f.remoteDescs))
	copy(out, f.remoteDescs)
	return out
}

// fakeLinkFactory hands out fakeLinks and remembers each build.
type fakeLinkFactory struct {
	mu    sync.Mutex
	links []*fakeLink
	cfgs  []domain.LinkConfig
}

func (f *fakeLinkFactory) NewLink(cfg domain.LinkConfig) (domain.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := newFakeLink()
	f.links = append(f.links, l)
	f.cfgs = append(f.cfgs, cfg)
	return l, nil
}

func (f *fakeLinkFactory) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeLinkFactory) link(i int) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.links) {
		return nil
	}
	return f.links[i]
}

func (f *fakeLinkFactory) cfg(i int) domain.LinkConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfgs[i]
}

// fakeMedia hands out fake local media, optionally failing video.
type fakeMedia struct {
	mu        sync.Mutex
	failVideo bool
	failAll   bool
	bundles   []*fakeLocalMedia
}

type fakeLocalMedia struct {
	mu       sync.Mutex
	video    bool
	releases int
}

func (b *fakeLocalMedia) Audio() bool { return true }
func (b *fakeLocalMedia) Video() bool { return b.video }
func (b *fakeLocalMedia) Release() {
	b.mu.Lock()
	b.releases++
	b.mu.Unlock()
}

func (b *fakeLocalMedia) releaseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releases
}

func (f *fakeMedia) Acquire(_ context.Context, video bool) (domain.LocalMedia, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || (video && f.failVideo) {
		return nil, domain.NewError(domain.KindLocalResource, domain.ReasonMediaDenied, nil)
	}
	b := &fakeLocalMedia{video: video}
	f.bundles = append(f.bundles, b)
	return b, nil
}

func testToken(allowTurn bool) domain.CallSessionToken {
	return domain.CallSessionToken{
		Token:          "tok",
		Nonce:          "nonce",
		AllowTurn:      allowTurn,
		TurnConfigured: allowTurn,
		ICEServers: []domain.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
		},
	}
}

func retryableErr(reason domain.Reason) error {
	return domain.NewError(domain.KindRetryable, reason, nil)
}

func testConfig(tokens *fakeTokens, signal *fakeSignal, links *fakeLinkFactory, media *fakeMedia) Config {
	return Config{
		LocalParty:      "alice",
		Tokens:          tokens,
		Signal:          signal,
		Links:           links,
		Media:           media,
		Logger:          zerolog.Nop(),
		TokenRetry:      domain.RetryPolicy{Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, MaxAttempts: 3},
		MaxReconnects:   3,
		StunFailTimeout: 40 * time.Millisecond,
	}
}
