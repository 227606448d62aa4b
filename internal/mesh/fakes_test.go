package mesh

import (
	"context"
	"sync"

	"github.com/callvault/callkit/internal/domain"
)

// fakeSignal records everything sent.
type fakeSignal struct {
	mu   sync.Mutex
	sent []domain.Envelope
}

func (f *fakeSignal) Send(env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	remoteDescs []domain.SDPPayload
	candidates  []domain.ICECandidatePayload
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
	return domain.SDPPayload{Type: "offer", SDP: "restart-sdp"}, nil
}

func (f *fakeLink) OnCandidate(func(domain.ICECandidatePayload)) {}

func (f *fakeLink) Events() <-chan domain.LinkEvent { return f.events }

func (f *fakeLink) Close() {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeLink) fail() {
	f.events <- domain.LinkEvent{Liveness: domain.LivenessFailed, Route: domain.RouteUnknown}
}

func (f *fakeLink) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls > 0
}

func (f *fakeLink) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeLink) recordedCandidates() []domain.ICECandidatePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ICECandidatePayload, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// fakeLinkFactory hands out fakeLinks keyed by build order.
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

// fakeMedia hands out fake local media.
type fakeMedia struct {
	mu      sync.Mutex
	bundles []*fakeLocalMedia
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
	b := &fakeLocalMedia{video: video}
	f.bundles = append(f.bundles, b)
	return b, nil
}

func (f *fakeMedia) bundle(i int) *fakeLocalMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.bundles) {
		return nil
	}
	return f.bundles[i]
}
