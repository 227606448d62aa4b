package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelayLadder(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 600*time.Millisecond, p.Delay(2))
	assert.Equal(t, 1200*time.Millisecond, p.Delay(3))
	assert.Equal(t, 1200*time.Millisecond, p.Delay(4), "past the ladder, the last rung repeats")
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
}

func TestRetryPolicyExhaustion(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestRetryPolicyEmptyLadder(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 1}
	assert.Equal(t, time.Duration(0), p.Delay(1))
}
