package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// Bundle holds the local capture tracks for one session. It is acquired at
// most once per session and survives a relay-fallback link rebuild: the new
// peer connection reattaches the same tracks instead of reopening devices.
type Bundle struct {
	audio *pion.TrackLocalStaticSample
	video *pion.TrackLocalStaticSample

	releaseOnce sync.Once
	released    bool
	log         zerolog.Logger
}

func (b *Bundle) Audio() bool { return b.audio != nil }
func (b *Bundle) Video() bool { return b.video != nil }

// Release stops the capture tracks. Idempotent; teardown races between local
// hangup and remote end both call it.
func (b *Bundle) Release() {
	b.releaseOnce.Do(func() {
		b.released = true
		b.log.Debug().Bool("video", b.Video()).Msg("local media released")
	})
}

// WebRTCTracks exposes the tracks for attachment to a peer connection.
func (b *Bundle) WebRTCTracks() []pion.TrackLocal {
	var tracks []pion.TrackLocal
	if b.audio != nil {
		tracks = append(tracks, b.audio)
	}
	if b.video != nil {
		tracks = append(tracks, b.video)
	}
	return tracks
}

// Source acquires sample-fed local tracks. Feeding the tracks with captured
// frames is the collaborator's job; the engine only owns their lifecycle.
type Source struct {
	log zerolog.Logger
}

// NewSource creates the default media source.
func NewSource(logger zerolog.Logger) *Source {
	return &Source{log: logger.With().Str("component", "media").Logger()}
}

// Acquire creates the audio track and, when requested, the video track.
func (s *Source) Acquire(ctx context.Context, video bool) (domain.LocalMedia, error) {
	streamID := uuid.NewString()

	audio, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, domain.NewError(domain.KindLocalResource, domain.ReasonMediaDenied, fmt.Errorf("create audio track: %w", err))
	}

	b := &Bundle{audio: audio, log: s.log}

	if video {
		vt, err := pion.NewTrackLocalStaticSample(
			pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			return nil, domain.NewError(domain.KindLocalResource, domain.ReasonMediaDenied, fmt.Errorf("create video track: %w", err))
		}
		b.video = vt
	}

	s.log.Debug().Bool("video", video).Msg("local media acquired")
	return b, nil
}
