package link

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// Engine holds the shared WebRTC API (media engine plus interceptor
// registry) from which all peer links are built.
type Engine struct {
	api *pion.API
	log zerolog.Logger
}

// NewEngine builds the pion API with default codecs and interceptors.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	return &Engine{
		api: api,
		log: logger.With().Str("component", "link").Logger(),
	}, nil
}

// trackProvider is what the media bundle must implement for its tracks to be
// attached to a peer connection.
type trackProvider interface {
	WebRTCTracks() []pion.TrackLocal
}

// NewLink builds one peer link per the config. With DirectOnly set, relay
// servers are stripped from the ICE set so the first connectivity attempt
// can only produce a direct route.
func (e *Engine) NewLink(cfg domain.LinkConfig) (domain.Link, error) {
	servers := iceServers(cfg.ICEServers, cfg.DirectOnly)

	pc, err := e.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := newLink(pc, cfg.Remote, e.log)

	if tp, ok := cfg.Media.(trackProvider); ok {
		for _, track := range tp.WebRTCTracks() {
			if _, err := pc.AddTrack(track); err != nil {
				l.Close()
				return nil, fmt.Errorf("add track: %w", err)
			}
		}
	}

	return l, nil
}

func iceServers(servers []domain.ICEServer, directOnly bool) []pion.ICEServer {
	var out []pion.ICEServer
	for _, s := range servers {
		if directOnly && isRelayServer(s) {
			continue
		}
		out = append(out, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func isRelayServer(s domain.ICEServer) bool {
	for _, u := range s.URLs {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
