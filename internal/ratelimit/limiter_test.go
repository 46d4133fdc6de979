package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	require.Nil(t, New(0, 10))
	require.Nil(t, New(-1, 10))
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("anyone"))
	}
	l.Cleanup(time.Minute)
}

func TestLimiterEnforcesBurst(t *testing.T) {
	l := New(1, 2)
	require.NotNil(t, l)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	// Independent bucket per key.
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestLimiterDefaultBurst(t *testing.T) {
	l := New(0.5, 0)
	require.NotNil(t, l)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	l := New(1, 1)
	require.True(t, l.Allow("gone"))
	require.False(t, l.Allow("gone"))

	time.Sleep(5 * time.Millisecond)
	l.Cleanup(time.Nanosecond)

	// A fresh bucket starts with a full burst again.
	assert.True(t, l.Allow("gone"))
}
