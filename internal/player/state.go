package player

// State is the output's playback state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// Action drives the output state machine.
type Action int

const (
	ActionPlay Action = iota
	ActionPause
	ActionResume
	ActionStop
	ActionFinish // the track reached its end
)

// transitions lists every allowed move. A missing entry is a no-op: pausing
// a stopped output or resuming a playing one changes nothing. Play from any
// state replaces the current track.
var transitions = map[State]map[Action]State{
	Stopped: {ActionPlay: Playing},
	Playing: {ActionPlay: Playing, ActionPause: Paused, ActionStop: Stopped, ActionFinish: Stopped},
	Paused:  {ActionPlay: Playing, ActionResume: Playing, ActionStop: Stopped, ActionFinish: Stopped},
}

// Next returns the state reached by a, and false when a does not apply.
func (s State) Next(a Action) (State, bool) {
	next, ok := transitions[s][a]
	return next, ok
}

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsActive reports whether a track is loaded, playing or paused.
func (s State) IsActive() bool {
	return s == Playing || s == Paused
}

func (s State) CanPause() bool {
	_, ok := s.Next(ActionPause)
	return ok
}

func (s State) CanResume() bool {
	_, ok := s.Next(ActionResume)
	return ok
}
