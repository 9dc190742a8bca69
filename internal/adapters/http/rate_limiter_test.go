package http

import (
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }
	key := domain.SessionKey{ID: "abc", Role: domain.RolePublisher}

	assert.True(t, rl.Allow(key))
	assert.True(t, rl.Allow(key))
	assert.False(t, rl.Allow(key))
	assert.True(t, rl.Allow(domain.SessionKey{ID: "abc", Role: domain.RoleSubscriber}))

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow(key))

	rl.Forget(key)
	assert.True(t, rl.Allow(key))
	assert.True(t, rl.Allow(key))
}

func TestRateLimiterDisabled(t *testing.T) {
	var rl *RateLimiter
	assert.True(t, rl.Allow(domain.SessionKey{ID: "abc", Role: domain.RolePublisher}))
	assert.True(t, NewRateLimiter(0, time.Second).Allow(domain.SessionKey{ID: "abc", Role: domain.RolePublisher}))
}
