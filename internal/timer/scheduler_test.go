package timer

import (
	"testing"
	"testing/synctest"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduler_Fires(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	fired := 0

	s.Schedule(Poll, time.Second, func() { fired++ })

	clock.Advance(999 * time.Millisecond)
	if fired != 0 {
		t.Fatal("fired early")
	}
	clock.Advance(time.Millisecond)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if s.Pending(Poll) {
		t.Error("token should not be pending after firing")
	}
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	var got []string

	s.Schedule(Debounce, 300*time.Millisecond, func() { got = append(got, "first") })
	clock.Advance(200 * time.Millisecond)
	s.Schedule(Debounce, 300*time.Millisecond, func() { got = append(got, "second") })
	clock.Advance(time.Second)

	if len(got) != 1 || got[0] != "second" {
		t.Errorf("fired %v, want [second]", got)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	fired := false

	s.Schedule(Heartbeat, time.Second, func() { fired = true })
	if !s.Cancel(Heartbeat) {
		t.Error("Cancel should report a pending timer")
	}
	if s.Cancel(Heartbeat) {
		t.Error("second Cancel should report nothing pending")
	}
	clock.Advance(time.Minute)

	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestScheduler_IndependentTokens(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	var got []Token

	s.Schedule(Poll, 2*time.Second, func() { got = append(got, Poll) })
	s.Schedule(Reconnect, time.Second, func() { got = append(got, Reconnect) })
	clock.Advance(3 * time.Second)

	if len(got) != 2 || got[0] != Reconnect || got[1] != Poll {
		t.Errorf("fired %v, want [reconnect poll]", got)
	}
}

func TestScheduler_Close(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	fired := 0

	s.Schedule(Poll, time.Second, func() { fired++ })
	s.Close()
	s.Schedule(Poll, time.Second, func() { fired++ })
	clock.Advance(time.Minute)

	if fired != 0 {
		t.Errorf("fired = %d after Close, want 0", fired)
	}
	if clock.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0", clock.Waiting())
	}
}

func TestScheduler_RealClock(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := NewScheduler(nil)
		done := make(chan time.Time, 1)
		start := time.Now()

		s.Schedule(Poll, 2*time.Second, func() { done <- time.Now() })

		at := <-done
		if got := at.Sub(start); got != 2*time.Second {
			t.Errorf("fired after %v, want 2s", got)
		}
	})
}

func TestScheduler_StaleFireDropped(t *testing.T) {
	clock := NewFake(epoch)
	s := NewScheduler(clock)
	fired := 0

	s.Schedule(Poll, time.Second, func() { fired++ })
	// Simulate a timer that escaped Stop: invoke the old generation directly.
	s.fire(Poll, 0, func() { fired += 10 })
	clock.Advance(time.Second)

	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}
