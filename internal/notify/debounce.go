package notify

import (
	"sync"
	"time"
)

// debounceGate suppresses repeated triggers per key within a cooldown window.
// Keys are disjoint per (gate, channel), so a single mutex over the map is the
// only locking needed; the check and the timestamp write are one critical
// section so concurrent qualifying events cannot both pass.
type debounceGate struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newDebounceGate(window time.Duration, now func() time.Time) *debounceGate {
	if now == nil {
		now = time.Now
	}
	return &debounceGate{
		last:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Allow reports whether the key is outside its window, recording the new
// timestamp when it is.
func (g *debounceGate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.last[key] = now
	return true
}
