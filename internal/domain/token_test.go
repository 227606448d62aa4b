package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockOffsetUsesServerTime(t *testing.T) {
	local := time.Now()
	server := local.Add(10 * time.Second)

	tok := CallSessionToken{
		ServerTime:        server.UnixMilli(),
		LocalClockAtFetch: local,
	}

	assert.InDelta(t, float64(10*time.Second), float64(tok.ClockOffset()), float64(time.Millisecond))
}

func TestDeadlineCorrectsForSkew(t *testing.T) {
	local := time.Now()
	// the server clock runs one minute ahead of the local clock
	server := local.Add(time.Minute)

	tok := CallSessionToken{
		ServerTime:        server.UnixMilli(),
		ExpiresAt:         server.Add(30 * time.Second).UnixMilli(),
		LocalClockAtFetch: local,
	}

	// 30 seconds of server validity is 30 seconds of local validity,
	// regardless of the skew
	assert.False(t, tok.Expired(local.Add(29*time.Second)))
	assert.True(t, tok.Expired(local.Add(31*time.Second)))
}

func TestExpiredAtDeadline(t *testing.T) {
	local := time.Now()
	tok := CallSessionToken{
		ServerTime:        local.UnixMilli(),
		ExpiresAt:         local.Add(30 * time.Second).UnixMilli(),
		LocalClockAtFetch: local,
	}

	assert.False(t, tok.Expired(local))
	assert.True(t, tok.Expired(tok.Deadline()))
}
