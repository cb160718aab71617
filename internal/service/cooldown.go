package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown enforces a minimum interval between paid lookups per user.
// Purely in-memory; restarting the bot resets it, which is acceptable
// for an abuse throttle.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	users    map[string]*rate.Limiter
}

func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{
		interval: interval,
		users:    make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the user may look up now. When throttled it also
// returns how long the user should wait.
func (c *Cooldown) Allow(userID string) (bool, time.Duration) {
	if c == nil || c.interval <= 0 {
		return true, 0
	}

	c.mu.Lock()
	lim, ok := c.users[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.interval), 1)
		c.users[userID] = lim
	}
	c.mu.Unlock()

	r := lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
