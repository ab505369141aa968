package presence

// Intent is the unload classifier's effective-intent slot. Priority
// is fixed: external > reload > internal > unknown. Once external has
// been marked it dominates every later signal for the remainder of
// the unload pass ("external baskın").
type Intent int

const (
	IntentUnknown Intent = iota
	IntentInternal
	IntentReload
	IntentExternal
)

// UpdateIntent applies the monotonic update rule: the effective
// intent only ever moves to a higher-priority value. A reload or
// internal signal arriving after external has been marked is
// silently absorbed.
func UpdateIntent(current, incoming Intent) Intent {
	if incoming > current {
		return incoming
	}
	return current
}

// LeaveMode distinguishes a LEAVE the classifier is certain about
// from one it is not.
type LeaveMode string

const (
	LeaveFinal   LeaveMode = "final"
	LeavePending LeaveMode = "pending"
)

// LeaveReason is the reason tag attached to an emitted LEAVE.
type LeaveReason string

const (
	ReasonExternal LeaveReason = "external"
	ReasonTabClose LeaveReason = "tabclose"
	ReasonUnknown  LeaveReason = "unknown"
)

// Outcome is the classifier's decision at a given decision point.
type Outcome struct {
	Suppress bool
	Mode     LeaveMode
	Reason   LeaveReason
}

var suppressOutcome = Outcome{Suppress: true}

// Decide evaluates the effective intent at a single decision point
// (visibilitychange→hidden, pagehide, freeze, or the beforeunload
// late guard) and returns what, if anything, should be emitted. It
// never mutates intent; UpdateIntent is the only place intent
// changes.
//
// bfcachePersisted corresponds to the pageshow/pagehide "persisted"
// flag: a BFCache restore with unknown intent is suppressed rather
// than treated as a real departure.
func Decide(intent Intent, bfcachePersisted bool) Outcome {
	switch intent {
	case IntentReload, IntentInternal:
		return suppressOutcome
	case IntentExternal:
		return Outcome{Mode: LeaveFinal, Reason: ReasonExternal}
	default:
		if bfcachePersisted {
			return suppressOutcome
		}
		return Outcome{Mode: LeavePending, Reason: ReasonUnknown}
	}
}

// LeaveGuard tracks the at-most-one-LEAVE-per-unload rule. A force
// bypass is used by the session-mode FSM when entering removed.
type LeaveGuard struct {
	sent bool
}

// Allow reports whether a LEAVE may be sent and marks the guard as
// tripped if so. force bypasses the guard (used for the FSM's forced
// LEAVE on entering removed) without clearing it for subsequent
// callers.
func (g *LeaveGuard) Allow(force bool) bool {
	if force {
		return true
	}
	if g.sent {
		return false
	}
	g.sent = true
	return true
}

// Reset clears the guard; called when the FSM leaves removed and
// resumes normal unload monitoring.
func (g *LeaveGuard) Reset() {
	g.sent = false
}
