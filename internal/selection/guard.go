package selection

import "time"

// DefaultGuardTimeout is how long the guard waits for the notification it
// expects before returning to Idle on its own.
const DefaultGuardTimeout = 500 * time.Millisecond

// GuardState is the state of the re-entrancy guard.
type GuardState uint8

const (
	// Idle passes every selection notification through.
	Idle GuardState = iota

	// SuppressingOne swallows the next notification, which is the echo of
	// an edit made by the editor itself.
	SuppressingOne
)

// String returns a human-readable representation of the state.
func (s GuardState) String() string {
	switch s {
	case Idle:
		return "idle"
	case SuppressingOne:
		return "suppressing-one"
	default:
		return "unknown"
	}
}

// Guard suppresses exactly one selection notification after a local edit.
// A guard left armed expires after its timeout so suppression can never
// get stuck.
type Guard struct {
	state   GuardState
	armedAt time.Time
	timeout time.Duration
	now     func() time.Time
}

// NewGuard creates an idle guard. A non-positive timeout disables expiry.
func NewGuard(timeout time.Duration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{timeout: timeout, now: now}
}

// Arm moves the guard to SuppressingOne. Arming an armed guard restarts
// its timeout; it still suppresses only one notification.
func (g *Guard) Arm() {
	g.state = SuppressingOne
	g.armedAt = g.now()
}

// Consume is called for every incoming notification. It returns true if
// the notification must be ignored, and returns the guard to Idle.
func (g *Guard) Consume() bool {
	if g.State() != SuppressingOne {
		return false
	}
	g.state = Idle
	return true
}

// Reset returns the guard to Idle.
func (g *Guard) Reset() {
	g.state = Idle
}

// State returns the current state, applying expiry.
func (g *Guard) State() GuardState {
	if g.state == SuppressingOne && g.timeout > 0 && g.now().Sub(g.armedAt) >= g.timeout {
		g.state = Idle
	}
	return g.state
}
