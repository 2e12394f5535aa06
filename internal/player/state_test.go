package player

import "testing"

func TestState_Next(t *testing.T) {
	tests := []struct {
		from   State
		action Action
		want   State
		ok     bool
	}{
		{Stopped, ActionPlay, Playing, true},
		{Stopped, ActionPause, Stopped, false},
		{Stopped, ActionResume, Stopped, false},
		{Stopped, ActionStop, Stopped, false},
		{Stopped, ActionFinish, Stopped, false},
		{Playing, ActionPlay, Playing, true},
		{Playing, ActionPause, Paused, true},
		{Playing, ActionResume, Playing, false},
		{Playing, ActionStop, Stopped, true},
		{Playing, ActionFinish, Stopped, true},
		{Paused, ActionPlay, Playing, true},
		{Paused, ActionPause, Paused, false},
		{Paused, ActionResume, Playing, true},
		{Paused, ActionStop, Stopped, true},
		{Paused, ActionFinish, Stopped, true},
	}
	for _, tt := range tests {
		got, ok := tt.from.Next(tt.action)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("%v.Next(%d) = %v, %v; want %v, %v", tt.from, tt.action, got, ok, tt.want, tt.ok)
		}
	}
}

func TestState_Predicates(t *testing.T) {
	tests := []struct {
		state                       State
		name                        string
		active, canPause, canResume bool
	}{
		{Stopped, "Stopped", false, false, false},
		{Playing, "Playing", true, true, false},
		{Paused, "Paused", true, false, true},
		{State(99), "Unknown", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.state.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.state.CanPause(); got != tt.canPause {
				t.Errorf("CanPause() = %v, want %v", got, tt.canPause)
			}
			if got := tt.state.CanResume(); got != tt.canResume {
				t.Errorf("CanResume() = %v, want %v", got, tt.canResume)
			}
		})
	}
}

func TestMock_FollowsTransitions(t *testing.T) {
	m := NewMock()
	steps := []struct {
		name string
		do   func()
		want State
	}{
		{"pause while stopped", m.Pause, Stopped},
		{"resume while stopped", m.Resume, Stopped},
		{"play", func() { _ = m.Play("/clips/a.mp4", 0) }, Playing},
		{"resume while playing", m.Resume, Playing},
		{"pause", m.Pause, Paused},
		{"pause again", m.Pause, Paused},
		{"resume", m.Resume, Playing},
		{"stop", m.Stop, Stopped},
		{"stop again", m.Stop, Stopped},
	}
	for _, s := range steps {
		s.do()
		if got := m.State(); got != s.want {
			t.Fatalf("after %s: state = %v, want %v", s.name, got, s.want)
		}
	}
}
