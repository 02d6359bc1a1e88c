// Package presence tracks which users have the planning grid open, what they
// are doing, and which cell they hover or hold.
package presence

import "time"

// State is the activity state of a session.
type State string

const (
	StateActive     State = "active"
	StateIdle       State = "idle"
	StateBackground State = "background"
)

// Machine is the per-session state machine:
//
//	active -> idle        no activity for the idle threshold (on Tick)
//	idle -> active        any activity
//	any -> background     tab hidden
//	background -> active  tab visible again (counts as activity)
//
// It is not safe for concurrent use; Session guards it.
type Machine struct {
	state         State
	lastActivity  time.Time
	idleThreshold time.Duration
}

// NewMachine starts active at now.
func NewMachine(now time.Time, idleThreshold time.Duration) *Machine {
	return &Machine{state: StateActive, lastActivity: now, idleThreshold: idleThreshold}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// LastActivity returns when activity was last recorded.
func (m *Machine) LastActivity() time.Time {
	return m.lastActivity
}

// MarkActivity records activity. It reports whether the state changed.
func (m *Machine) MarkActivity(now time.Time) bool {
	m.lastActivity = now
	if m.state == StateIdle {
		m.state = StateActive
		return true
	}
	return false
}

// SetVisible applies a visibility change. It reports whether the state changed.
func (m *Machine) SetVisible(visible bool, now time.Time) bool {
	if !visible {
		if m.state == StateBackground {
			return false
		}
		m.state = StateBackground
		return true
	}
	if m.state != StateBackground {
		return false
	}
	m.state = StateActive
	m.lastActivity = now
	return true
}

// Tick re-derives idleness. It reports whether the state changed.
func (m *Machine) Tick(now time.Time) bool {
	if m.state == StateActive && now.Sub(m.lastActivity) >= m.idleThreshold {
		m.state = StateIdle
		return true
	}
	return false
}
