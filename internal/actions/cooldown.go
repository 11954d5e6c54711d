package actions

import (
	"sync"
	"time"
)

// Cooldowns tracks the most recent action per agent with a TTL. It is
// injected into the Service rather than living as a process-wide map so
// tests get isolation and multiple services never share hidden state.
type Cooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
	ttl  time.Duration
}

// NewCooldowns creates a cooldown store; ttl is the minimum spacing
// between actions by the same agent.
func NewCooldowns(ttl time.Duration) *Cooldowns {
	return &Cooldowns{
		last: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Ready reports whether the agent may act now, and records the attempt
// when it may. A zero-ttl store always says yes.
func (c *Cooldowns) Ready(agentID string, now time.Time) bool {
	if c == nil || c.ttl <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.last[agentID]; ok && now.Sub(t) < c.ttl {
		return false
	}
	c.last[agentID] = now
	return true
}

// Sweep drops entries older than twice the TTL. Called opportunistically
// by the service.
func (c *Cooldowns) Sweep(now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.last {
		if now.Sub(t) > 2*c.ttl {
			delete(c.last, id)
		}
	}
}
