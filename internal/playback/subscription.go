package playback

import "sync/atomic"

const eventBufferSize = 16

// Subscription delivers playback events to one consumer. Every event kind
// has its own buffered channel. A full channel drops the event instead of
// stalling the dispatch goroutine; Dropped counts the losses.
type Subscription struct {
	StateChanged    <-chan StateChange
	TrackChanged    <-chan TrackChange
	PositionChanged <-chan PositionChange
	QueueChanged    <-chan QueueChange
	VolumeChanged   <-chan VolumeChange
	CommandDone     <-chan CommandDone
	Error           <-chan ErrorEvent
	Done            <-chan struct{}

	states    chan StateChange
	tracks    chan TrackChange
	positions chan PositionChange
	queues    chan QueueChange
	volumes   chan VolumeChange
	commands  chan CommandDone
	errs      chan ErrorEvent
	done      chan struct{}

	dropped atomic.Uint64
}

func newSubscription() *Subscription {
	s := &Subscription{
		states:    make(chan StateChange, eventBufferSize),
		tracks:    make(chan TrackChange, eventBufferSize),
		positions: make(chan PositionChange, eventBufferSize),
		queues:    make(chan QueueChange, eventBufferSize),
		volumes:   make(chan VolumeChange, eventBufferSize),
		commands:  make(chan CommandDone, eventBufferSize),
		errs:      make(chan ErrorEvent, eventBufferSize),
		done:      make(chan struct{}),
	}
	s.StateChanged = s.states
	s.TrackChanged = s.tracks
	s.PositionChanged = s.positions
	s.QueueChanged = s.queues
	s.VolumeChanged = s.volumes
	s.CommandDone = s.commands
	s.Error = s.errs
	s.Done = s.done
	return s
}

// Dropped returns how many events were discarded because the consumer
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	close(s.done)
}

// offer sends v on ch unless ch is full.
func offer[T any](s *Subscription, ch chan T, v T) {
	select {
	case ch <- v:
	default:
		s.dropped.Add(1)
	}
}
