package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryRateLimiter_PerIdentifierBurst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewInMemoryRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestInMemoryRateLimiter_Forget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewInMemoryRateLimiter(10, 10)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(10 * time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Forget(5*time.Minute))
	assert.Equal(t, 1, l.Tracked())
}
