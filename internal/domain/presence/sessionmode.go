package presence

import "time"

// ModeRemoved is a local sentinel for the FSM's terminal state. It is
// never written to the presence store — on entering it the client
// sends a forced LEAVE and the server simply has no record.
const ModeRemoved SessionMode = "removed"

// ForegroundIdleTimeout (F) and PassiveIdleTimeout (P) are the two
// idle bounds that drive the desktop session-mode FSM.
const (
	ForegroundIdleTimeout = 5 * time.Minute
	PassiveIdleTimeout    = 4 * time.Minute
)

// Event is an FSM input, produced by the visibility tracker, the
// user-activity listeners, and the caller's idle timers; the FSM
// itself never polls a clock — idle timeouts are delivered as events
// by the caller's timer.
type Event string

const (
	EventActivity         Event = "activity"
	EventBackground       Event = "background"
	EventBecameForeground Event = "became_foreground"
	EventForegroundIdle   Event = "foreground_idle"
	EventPassiveIdle      Event = "passive_idle"
)

// State is the FSM's full state: the mode plus whether the tab is
// currently foregrounded, since several transitions depend on both.
type State struct {
	Mode       SessionMode
	Foreground bool
}

// Transition is the session-mode FSM's pure transition function. It
// mirrors the table in the session-mode specification: it never
// performs I/O and never reads the clock; idle timeouts arrive as
// events already decided by the caller.
func Transition(s State, e Event) State {
	switch s.Mode {
	case ModeActive:
		switch e {
		case EventActivity:
			return State{Mode: ModeActive, Foreground: s.Foreground}
		case EventBackground:
			return State{Mode: ModePassiveActive, Foreground: false}
		case EventForegroundIdle:
			if s.Foreground {
				return State{Mode: ModePassiveActive, Foreground: s.Foreground}
			}
			return s
		case EventBecameForeground:
			return State{Mode: ModeActive, Foreground: true}
		default:
			return s
		}
	case ModePassiveActive:
		switch e {
		case EventActivity:
			if s.Foreground {
				return State{Mode: ModeActive, Foreground: true}
			}
			return s
		case EventBecameForeground:
			return State{Mode: ModeActive, Foreground: true}
		case EventPassiveIdle:
			return State{Mode: ModeRemoved, Foreground: s.Foreground}
		default:
			return s
		}
	case ModeRemoved:
		switch e {
		case EventActivity, EventBecameForeground:
			return State{Mode: ModeActive, Foreground: true}
		default:
			return s
		}
	default:
		return s
	}
}

// RequiresServerUpdate reports whether a transition from prev to next
// must be reported to the server: every change except the one that
// enters removed, which instead triggers a forced LEAVE and a stop of
// TTL refresh (handled by the caller, not the FSM).
func RequiresServerUpdate(prev, next State) bool {
	return prev.Mode != next.Mode && next.Mode != ModeRemoved
}

// EnteredRemoved reports the removed-entry edge that triggers a
// forced LEAVE.
func EnteredRemoved(prev, next State) bool {
	return prev.Mode != ModeRemoved && next.Mode == ModeRemoved
}

// LeftRemoved reports the removed-exit edge that resets the
// leave-sent guard and re-JOINs with the current mode before the FSM
// resumes normal operation.
func LeftRemoved(prev, next State) bool {
	return prev.Mode == ModeRemoved && next.Mode != ModeRemoved
}
