package turns

import (
	"sync"
	"time"
)

// Endpointer decides when the caller's turn has ended: silence past a
// configured threshold, with a hard cap on total utterance length so a turn
// can never stay open unbounded. The agent service usually signals end of
// turn itself; this is the local fallback when that signal never arrives.
type Endpointer struct {
	silence time.Duration
	maxTurn time.Duration
	now     func() time.Time

	mu        sync.Mutex
	active    bool
	startedAt time.Time
	lastVoice time.Time
}

// NewEndpointer creates an endpointer with the given silence threshold and
// max utterance cap. Zero values fall back to 700ms and 9s.
func NewEndpointer(silence, maxTurn time.Duration) *Endpointer {
	if silence <= 0 {
		silence = 700 * time.Millisecond
	}
	if maxTurn <= 0 {
		maxTurn = 9 * time.Second
	}
	return &Endpointer{silence: silence, maxTurn: maxTurn, now: time.Now}
}

// SetClock replaces the time source. Tests use this for determinism.
func (e *Endpointer) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Begin arms the timers at the start of a user turn.
func (e *Endpointer) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.now()
	e.active = true
	e.startedAt = t
	e.lastVoice = t
}

// Voice records continued caller speech, pushing back the silence deadline.
func (e *Endpointer) Voice() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	e.lastVoice = e.now()
}

// Stop disarms the timers.
func (e *Endpointer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
}

// Active reports whether a user turn is being timed.
func (e *Endpointer) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Check returns (fired, forced). fired is true once the turn should end;
// forced marks the max-utterance cap rather than silence. A fired check
// disarms the endpointer so the decision is made exactly once per turn.
func (e *Endpointer) Check() (fired, forced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return false, false
	}
	t := e.now()
	if t.Sub(e.startedAt) >= e.maxTurn {
		e.active = false
		return true, true
	}
	if t.Sub(e.lastVoice) >= e.silence {
		e.active = false
		return true, false
	}
	return false, false
}
