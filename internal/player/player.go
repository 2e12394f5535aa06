package player

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const DefaultVolume = 50

var (
	ErrNotPlaying = errors.New("nothing is playing")
	ErrClosed     = errors.New("player closed")
)

// Player is a clock-driven output: it tracks position against wall time and
// signals the end of each track when its duration elapses. It is the output
// used when rendering happens elsewhere (a screen fed by the published
// state) and the default one in tests.
type Player struct {
	fallback time.Duration // used when a track has no known duration

	mu       sync.Mutex
	state    State
	locator  string
	duration time.Duration
	offset   time.Duration // position at startedAt
	started  time.Time
	timer    *time.Timer
	gen      uint64
	volume   int
	closed   bool

	finishedCh chan struct{}
}

// New creates a clock-driven player. Tracks without a duration play for
// fallback; zero means they play until stopped.
func New(fallback time.Duration) *Player {
	return &Player{
		fallback:   fallback,
		volume:     DefaultVolume,
		finishedCh: make(chan struct{}, 1),
	}
}

func (p *Player) Play(locator string, duration time.Duration) error {
	if locator == "" {
		return errors.New("empty locator")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.stopLocked()
	if duration <= 0 {
		duration = p.fallback
	}
	p.locator = locator
	p.duration = duration
	p.offset = 0
	p.state = Playing
	p.armLocked()
	return nil
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.state == Stopped {
		return
	}
	p.disarmLocked()
	p.state = Stopped
	p.locator = ""
	p.duration = 0
	p.offset = 0
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.state.Next(ActionPause)
	if !ok {
		return
	}
	p.offset = p.positionLocked()
	p.disarmLocked()
	p.state = next
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.state.Next(ActionResume)
	if !ok {
		return
	}
	p.state = next
	p.armLocked()
}

// Seek jumps to pos. Seeking to or past the end finishes the track.
func (p *Player) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.IsActive() {
		return ErrNotPlaying
	}
	if pos < 0 {
		return fmt.Errorf("negative position %v", pos)
	}
	if p.duration > 0 && pos >= p.duration {
		p.finishLocked()
		return nil
	}
	p.offset = pos
	if p.state == Playing {
		p.disarmLocked()
		p.armLocked()
	}
	return nil
}

func (p *Player) SetVolume(level int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = min(max(level, 0), 100)
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Locator returns the locator being played, empty when stopped.
func (p *Player) Locator() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locator
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	if p.state != Playing {
		return p.offset
	}
	pos := p.offset + time.Since(p.started)
	if p.duration > 0 {
		pos = min(pos, p.duration)
	}
	return pos
}

func (p *Player) FinishedChan() <-chan struct{} {
	return p.finishedCh
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}

func (p *Player) armLocked() {
	p.started = time.Now()
	if p.duration <= 0 {
		return
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.duration-p.offset, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.gen || p.state != Playing {
			return
		}
		p.finishLocked()
	})
}

func (p *Player) disarmLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Player) finishLocked() {
	p.stopLocked()
	select {
	case p.finishedCh <- struct{}{}:
	default:
	}
}
