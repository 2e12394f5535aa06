package player

import (
	"sync"
	"time"
)

// Mock is a test double for Player.
type Mock struct {
	mu         sync.Mutex
	state      State
	locator    string
	position   time.Duration
	volume     int
	playErr    error
	seekErr    error
	playCalls  []string
	seekCalls  []time.Duration
	finishedCh chan struct{}
	closed     bool
}

// NewMock creates a new mock player for testing.
func NewMock() *Mock {
	return &Mock{
		state:      Stopped,
		volume:     DefaultVolume,
		finishedCh: make(chan struct{}, 1),
	}
}

func (m *Mock) Play(locator string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls = append(m.playCalls, locator)
	if m.playErr != nil {
		return m.playErr
	}
	m.state = Playing
	m.locator = locator
	m.position = 0
	return nil
}

func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Stopped
	m.locator = ""
}

func (m *Mock) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next, ok := m.state.Next(ActionPause); ok {
		m.state = next
	}
}

func (m *Mock) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next, ok := m.state.Next(ActionResume); ok {
		m.state = next
	}
}

func (m *Mock) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekCalls = append(m.seekCalls, pos)
	if m.seekErr != nil {
		return m.seekErr
	}
	if !m.state.IsActive() {
		return ErrNotPlaying
	}
	m.position = pos
	return nil
}

func (m *Mock) SetVolume(level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = level
}

func (m *Mock) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) FinishedChan() <-chan struct{} {
	return m.finishedCh
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Test helpers

func (m *Mock) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Mock) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

func (m *Mock) SetSeekError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekErr = err
}

func (m *Mock) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

func (m *Mock) Locator() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locator
}

func (m *Mock) PlayCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.playCalls...)
}

func (m *Mock) SeekCalls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.seekCalls...)
}

func (m *Mock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SimulateFinished simulates a track finishing.
func (m *Mock) SimulateFinished() {
	m.mu.Lock()
	m.state = Stopped
	m.locator = ""
	m.mu.Unlock()
	select {
	case m.finishedCh <- struct{}{}:
	default:
	}
}

// Verify Mock implements Interface at compile time.
var _ Interface = (*Mock)(nil)
