// Package ratelimit bounds how often one agent may be triggered.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limits are the per-agent rate settings checked on each trigger attempt,
// taken from the agent's automation policy.
type Limits struct {
	MaxPerWindow int
	Window       time.Duration
	Cooldown     time.Duration
}

// agentWindow holds one agent's accepted-trigger timestamps. Each agent has
// its own mutex so different agents never contend.
type agentWindow struct {
	mu       sync.Mutex
	triggers []time.Time
}

// Limiter tracks per-agent sliding windows of accepted triggers. Safe for
// concurrent use across agents.
type Limiter struct {
	windows sync.Map // agentID -> *agentWindow

	// now is overridable for tests.
	now func() time.Time
}

// NewLimiter creates a Limiter.
func NewLimiter() *Limiter {
	return &Limiter{now: time.Now}
}

func (l *Limiter) window(agentID string) *agentWindow {
	if w, ok := l.windows.Load(agentID); ok {
		return w.(*agentWindow)
	}
	w, _ := l.windows.LoadOrStore(agentID, &agentWindow{})
	return w.(*agentWindow)
}

// Allow checks whether an agent may be triggered now. It returns false with
// a reason when the window is saturated or the cooldown since the last
// trigger has not elapsed. Stale timestamps are pruned on every check
// (sliding window).
func (l *Limiter) Allow(agentID string, limits Limits) (bool, string) {
	w := l.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, limits.Window)

	if limits.MaxPerWindow > 0 && len(w.triggers) >= limits.MaxPerWindow {
		return false, fmt.Sprintf("window saturated (%d/%d in %s)",
			len(w.triggers), limits.MaxPerWindow, limits.Window)
	}
	if limits.Cooldown > 0 && len(w.triggers) > 0 {
		last := w.triggers[len(w.triggers)-1]
		if elapsed := now.Sub(last); elapsed < limits.Cooldown {
			return false, fmt.Sprintf("cooldown (%s remaining)",
				(limits.Cooldown - elapsed).Round(time.Second))
		}
	}
	return true, ""
}

// Record registers an accepted trigger for the agent.
func (l *Limiter) Record(agentID string, limits Limits) {
	w := l.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, limits.Window)
	w.triggers = append(w.triggers, now)
}

// Count returns the number of triggers currently inside the agent's window.
func (l *Limiter) Count(agentID string, window time.Duration) int {
	w := l.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(l.now(), window)
	return len(w.triggers)
}

// prune drops timestamps that have slid out of the window. Caller holds mu.
func (w *agentWindow) prune(now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.triggers) && !w.triggers[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.triggers = append(w.triggers[:0], w.triggers[i:]...)
	}
}
