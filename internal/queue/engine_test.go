//nolint:goconst // test file with repeated string literals
package queue

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func vid(locator string) Video {
	return Video{Title: locator, Locator: locator}
}

func locators(videos []Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.Locator
	}
	return out
}

func TestEngine_PeekNext_Empty(t *testing.T) {
	e := NewEngine()

	v, src := e.PeekNext()

	if v != nil {
		t.Errorf("PeekNext() video = %v, want nil", v)
	}
	if src != SourceNone {
		t.Errorf("PeekNext() source = %v, want none", src)
	}
}

func TestEngine_PeekNext_PriorityFirst(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("a"))
	e.AddPriority(vid("p"))

	v, src := e.PeekNext()

	if v == nil || v.Locator != "p" {
		t.Fatalf("PeekNext() = %v, want p", v)
	}
	if src != SourcePriority {
		t.Errorf("source = %v, want priority", src)
	}
	if e.Len(SourcePriority) != 1 || e.Len(SourceActive) != 1 {
		t.Error("PeekNext must not dequeue")
	}
}

func TestEngine_StartPlayback_RotateScenario(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("A"), vid("B"), vid("C"))

	v, src := e.StartPlayback()
	if v == nil || v.Locator != "A" || src != SourceActive {
		t.Fatalf("StartPlayback() = (%v, %v), want (A, active)", v, src)
	}

	v, src = e.Rotate()
	if v == nil || v.Locator != "B" || src != SourceActive {
		t.Fatalf("Rotate() = (%v, %v), want (B, active)", v, src)
	}

	got := locators(e.Snapshot().Active)
	if !slices.Equal(got, []string{"C", "A"}) {
		t.Errorf("active = %v, want [C A]", got)
	}
}

func TestEngine_Rotate_PriorityNotRecycled(t *testing.T) {
	e := NewEngine()
	e.Restore(State{
		Active:           []Video{vid("B")},
		Priority:         []Video{vid("P1")},
		NowPlaying:       &Video{Title: "A", Locator: "A"},
		NowPlayingSource: SourceActive,
	})

	v, src := e.Rotate()
	if v == nil || v.Locator != "P1" || src != SourcePriority {
		t.Fatalf("Rotate() = (%v, %v), want (P1, priority)", v, src)
	}
	snap := e.Snapshot()
	if got := locators(snap.Active); !slices.Equal(got, []string{"B", "A"}) {
		t.Errorf("active = %v, want [B A]", got)
	}
	if len(snap.Priority) != 0 {
		t.Errorf("priority = %v, want empty", locators(snap.Priority))
	}

	v, src = e.Rotate()
	if v == nil || v.Locator != "B" || src != SourceActive {
		t.Fatalf("Rotate() = (%v, %v), want (B, active)", v, src)
	}
	snap = e.Snapshot()
	if got := locators(snap.Active); !slices.Equal(got, []string{"A"}) {
		t.Errorf("active = %v, want [A]", got)
	}
	if len(snap.Priority) != 0 {
		t.Error("P1 must not be re-queued")
	}
}

func TestEngine_Rotate_ActiveRecycledOnce(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("A"), vid("B"))
	e.StartPlayback()

	for range 4 {
		e.Rotate()
	}

	snap := e.Snapshot()
	if snap.NowPlaying == nil || snap.NowPlaying.Locator != "A" {
		t.Errorf("now playing = %v, want A", snap.NowPlaying)
	}
	if got := locators(snap.Active); !slices.Equal(got, []string{"B"}) {
		t.Errorf("active = %v, want [B]", got)
	}
}

func TestEngine_Rotate_BothEmpty(t *testing.T) {
	e := NewEngine()
	e.AddPriority(vid("P"))
	e.StartPlayback()

	v, src := e.Rotate()

	if v != nil || src != SourceNone {
		t.Errorf("Rotate() = (%v, %v), want (nil, none)", v, src)
	}
	if np, _ := e.NowPlaying(); np != nil {
		t.Errorf("now playing = %v, want nil", np)
	}
}

func TestEngine_Rotate_SingleActiveLoops(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("A"))
	e.StartPlayback()

	v, src := e.Rotate()

	if v == nil || v.Locator != "A" || src != SourceActive {
		t.Errorf("Rotate() = (%v, %v), want (A, active)", v, src)
	}
}

func TestEngine_InsertActive(t *testing.T) {
	tests := []struct {
		name string
		pos  int
		want []string
		ok   bool
	}{
		{"head", 0, []string{"x", "a", "b"}, true},
		{"middle", 1, []string{"a", "x", "b"}, true},
		{"tail", 2, []string{"a", "b", "x"}, true},
		{"past tail appends", 10, []string{"a", "b", "x"}, true},
		{"negative", -1, []string{"a", "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			e.AddActive(vid("a"), vid("b"))

			ok := e.InsertActive(tt.pos, vid("x"))

			if ok != tt.ok {
				t.Errorf("InsertActive() = %v, want %v", ok, tt.ok)
			}
			if got := locators(e.Snapshot().Active); !slices.Equal(got, tt.want) {
				t.Errorf("active = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_Remove(t *testing.T) {
	e := NewEngine()
	e.AddPriority(vid("p1"), vid("p2"))

	if !e.Remove(SourcePriority, 0) {
		t.Error("Remove(priority, 0) should succeed")
	}
	if e.Remove(SourcePriority, 5) {
		t.Error("Remove out of range should fail")
	}
	if e.Remove(SourceNone, 0) {
		t.Error("Remove on none should fail")
	}
	if got := locators(e.Snapshot().Priority); !slices.Equal(got, []string{"p2"}) {
		t.Errorf("priority = %v, want [p2]", got)
	}
}

func TestEngine_Clear(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("a"))
	e.AddPriority(vid("p"))

	e.Clear(SourceActive)

	if e.Len(SourceActive) != 0 {
		t.Error("active should be empty")
	}
	if e.Len(SourcePriority) != 1 {
		t.Error("priority should be untouched")
	}
}

func TestEngine_Shuffle_KeepFirst(t *testing.T) {
	e := NewEngine(WithRand(rand.New(rand.NewPCG(1, 2))))
	e.AddActive(vid("a"), vid("b"), vid("c"), vid("d"), vid("e"))

	for range 20 {
		e.Shuffle(SourceActive, true)
		got := locators(e.Snapshot().Active)
		if got[0] != "a" {
			t.Fatalf("head = %q, want a", got[0])
		}
		sorted := slices.Clone(got)
		slices.Sort(sorted)
		if !slices.Equal(sorted, []string{"a", "b", "c", "d", "e"}) {
			t.Fatalf("shuffle lost entries: %v", got)
		}
	}
}

func TestEngine_Shuffle_Uniform(t *testing.T) {
	e := NewEngine(WithRand(rand.New(rand.NewPCG(42, 7))))
	counts := map[string]int{}
	const runs = 6000

	for range runs {
		e.Restore(State{Active: []Video{vid("a"), vid("b"), vid("c")}})
		e.Shuffle(SourceActive, false)
		got := locators(e.Snapshot().Active)
		counts[got[0]+got[1]+got[2]]++
	}

	if len(counts) != 6 {
		t.Fatalf("saw %d permutations, want 6", len(counts))
	}
	for perm, n := range counts {
		if n < 800 || n > 1200 {
			t.Errorf("permutation %s seen %d times, want about %d", perm, n, runs/6)
		}
	}
}

func TestEngine_SnapshotIsCopy(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("a"))
	e.StartPlayback()

	snap := e.Snapshot()
	snap.NowPlaying.Title = "changed"
	snap.Active = append(snap.Active, vid("z"))

	np, _ := e.NowPlaying()
	if np.Title != "a" {
		t.Error("snapshot now-playing aliases engine state")
	}
	if e.Len(SourceActive) != 0 {
		t.Error("snapshot active aliases engine state")
	}
}

func TestEngine_ReplaceActive(t *testing.T) {
	e := NewEngine()
	e.AddActive(vid("old"))
	e.StartPlayback()

	e.ReplaceActive([]Video{vid("n1"), vid("n2")})

	snap := e.Snapshot()
	if got := locators(snap.Active); !slices.Equal(got, []string{"n1", "n2"}) {
		t.Errorf("active = %v, want [n1 n2]", got)
	}
	if snap.NowPlaying == nil || snap.NowPlaying.Locator != "old" {
		t.Error("ReplaceActive must not touch now playing")
	}
}

func TestSource_Text(t *testing.T) {
	for _, s := range []Source{SourceNone, SourceActive, SourcePriority} {
		b, _ := s.MarshalText()
		var got Source
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != s {
			t.Errorf("round trip %v -> %v", s, got)
		}
	}
	var s Source
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown source")
	}
}
