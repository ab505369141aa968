package presence

import "testing"

func TestTransitionActiveToPassiveOnBackground(t *testing.T) {
	s := State{Mode: ModeActive, Foreground: true}
	next := Transition(s, EventBackground)
	if next.Mode != ModePassiveActive {
		t.Fatalf("expected passive_active, got %s", next.Mode)
	}
	if !RequiresServerUpdate(s, next) {
		t.Fatalf("expected a server update on active->passive_active")
	}
}

func TestTransitionForegroundIdleOnlyWhileForeground(t *testing.T) {
	s := State{Mode: ModeActive, Foreground: false}
	next := Transition(s, EventForegroundIdle)
	if next.Mode != ModeActive {
		t.Fatalf("background tab should not idle-timeout to passive via foreground idle, got %s", next.Mode)
	}
}

func TestTransitionPassiveIdleEntersRemoved(t *testing.T) {
	s := State{Mode: ModePassiveActive, Foreground: false}
	next := Transition(s, EventPassiveIdle)
	if next.Mode != ModeRemoved {
		t.Fatalf("expected removed, got %s", next.Mode)
	}
	if RequiresServerUpdate(s, next) {
		t.Fatalf("entering removed must not be reported as a session_mode update")
	}
	if !EnteredRemoved(s, next) {
		t.Fatalf("expected EnteredRemoved edge")
	}
}

func TestTransitionRemovedReactivatesOnActivity(t *testing.T) {
	s := State{Mode: ModeRemoved}
	next := Transition(s, EventActivity)
	if next.Mode != ModeActive || !next.Foreground {
		t.Fatalf("expected active+foreground, got %+v", next)
	}
	if !LeftRemoved(s, next) {
		t.Fatalf("expected LeftRemoved edge")
	}
}

func TestTransitionPassiveActivityRequiresForeground(t *testing.T) {
	s := State{Mode: ModePassiveActive, Foreground: false}
	next := Transition(s, EventActivity)
	if next.Mode != ModePassiveActive {
		t.Fatalf("background activity must not resurrect active mode, got %s", next.Mode)
	}
}

func TestTransitionBecameForegroundFromPassive(t *testing.T) {
	s := State{Mode: ModePassiveActive, Foreground: false}
	next := Transition(s, EventBecameForeground)
	if next.Mode != ModeActive {
		t.Fatalf("expected active, got %s", next.Mode)
	}
}
