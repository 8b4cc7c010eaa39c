package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInviteRateLimiter_BlocksOverLimit(t *testing.T) {
	req := require.New(t)
	rl := NewInviteRateLimiter(3, time.Minute)

	req.True(rl.Allow("alice"))
	req.True(rl.Allow("alice"))
	req.True(rl.Allow("alice"))
	req.False(rl.Allow("alice"))

	// Other users have their own budget
	req.True(rl.Allow("bob"))
}

func TestInviteRateLimiter_WindowExpires(t *testing.T) {
	req := require.New(t)
	rl := NewInviteRateLimiter(1, 20*time.Millisecond)

	req.True(rl.Allow("alice"))
	req.False(rl.Allow("alice"))

	time.Sleep(30 * time.Millisecond)
	req.True(rl.Allow("alice"))
}
