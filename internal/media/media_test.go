package media

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAudioOnly(t *testing.T) {
	m, err := NewSource(zerolog.Nop()).Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, m.Audio())
	assert.False(t, m.Video())

	b := m.(*Bundle)
	assert.Len(t, b.WebRTCTracks(), 1)
}

func TestAcquireWithVideo(t *testing.T) {
	m, err := NewSource(zerolog.Nop()).Acquire(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, m.Audio())
	assert.True(t, m.Video())

	b := m.(*Bundle)
	tracks := b.WebRTCTracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, tracks[0].StreamID(), tracks[1].StreamID(), "both tracks share one stream")
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, err := NewSource(zerolog.Nop()).Acquire(context.Background(), false)
	require.NoError(t, err)

	m.Release()
	m.Release()
	assert.True(t, m.(*Bundle).released)
}
