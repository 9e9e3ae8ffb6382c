// Package emoji holds the pack pipeline around the image kernel: the
// per-user admission gate, the worker queue with futures, the job service
// and the user-settings service.
package emoji

import (
	"sync"
	"time"

	"github.com/packsmith/backend/internal/metrics"
)

// DefaultCooldown is the quiet period between accepted submissions.
const DefaultCooldown = 2 * time.Second

type gateState struct {
	busy       bool
	lastAction time.Time
}

// Gate admits at most one in-flight submission per user and enforces a
// quiet period between attempts. Every attempt, accepted or not, restarts
// the quiet period.
type Gate struct {
	cooldown time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[int64]*gateState
}

// NewGate builds a gate with the given cooldown. Zero means DefaultCooldown.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		cooldown: cooldown,
		now:      time.Now,
		states:   make(map[int64]*gateState),
	}
}

// TryAcquire reports whether the user may submit now. On success the user
// is marked busy until Release.
func (g *Gate) TryAcquire(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st, ok := g.states[userID]
	if !ok {
		st = &gateState{}
		g.states[userID] = st
	}
	accepted := !st.busy && now.Sub(st.lastAction) >= g.cooldown
	st.lastAction = now
	if accepted {
		st.busy = true
	} else {
		metrics.AdmissionRejected.Inc()
	}
	return accepted
}

// Release clears the busy flag and restarts the quiet period.
func (g *Gate) Release(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[userID]
	if !ok {
		st = &gateState{}
		g.states[userID] = st
	}
	st.busy = false
	st.lastAction = g.now()
}

// Busy reports whether the user currently holds the gate.
func (g *Gate) Busy(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[userID]
	return ok && st.busy
}
