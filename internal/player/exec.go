package player

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Exec plays tracks through an external program, one process per track.
// Arguments may contain {locator}, {start} (seconds) and {volume} (0-100).
// The process exiting on its own ends the track.
type Exec struct {
	name   string
	args   []string
	logger *slog.Logger

	clock *Player // position, state and volume bookkeeping

	mu         sync.Mutex
	cmd        *exec.Cmd
	gen        uint64
	finishedCh chan struct{}
}

// NewExec parses commandLine ("mpv --no-video {locator}") into an output.
func NewExec(commandLine string, logger *slog.Logger) (*Exec, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty player command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		name:       fields[0],
		args:       fields[1:],
		logger:     logger.With("component", "player", "program", fields[0]),
		clock:      New(0),
		finishedCh: make(chan struct{}, 1),
	}, nil
}

func (e *Exec) Play(locator string, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killLocked()
	if err := e.clock.Play(locator, 0); err != nil {
		return err
	}
	if err := e.startLocked(locator, 0); err != nil {
		e.clock.Stop()
		return err
	}
	return nil
}

func (e *Exec) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killLocked()
	e.clock.Stop()
}

func (e *Exec) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || !e.clock.State().CanPause() {
		return
	}
	if err := suspend(e.cmd.Process); err != nil {
		e.logger.Warn("pause failed", "err", err)
		return
	}
	e.clock.Pause()
}

func (e *Exec) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || !e.clock.State().CanResume() {
		return
	}
	if err := resume(e.cmd.Process); err != nil {
		e.logger.Warn("resume failed", "err", err)
		return
	}
	e.clock.Resume()
}

// Seek restarts the program at pos.
func (e *Exec) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.clock.State().IsActive() {
		return ErrNotPlaying
	}
	locator := e.clock.Locator()
	paused := e.clock.State() == Paused
	e.killLocked()
	if err := e.clock.Seek(pos); err != nil {
		return err
	}
	if err := e.startLocked(locator, pos); err != nil {
		e.clock.Stop()
		return err
	}
	if paused {
		_ = suspend(e.cmd.Process)
	}
	return nil
}

// SetVolume takes effect on the next track or seek.
func (e *Exec) SetVolume(level int) { e.clock.SetVolume(level) }

func (e *Exec) Volume() int { return e.clock.Volume() }

func (e *Exec) State() State { return e.clock.State() }

func (e *Exec) Position() time.Duration { return e.clock.Position() }

func (e *Exec) FinishedChan() <-chan struct{} { return e.finishedCh }

func (e *Exec) Close() error {
	e.Stop()
	return e.clock.Close()
}

func (e *Exec) expand(locator string, start time.Duration) []string {
	r := strings.NewReplacer(
		"{locator}", locator,
		"{start}", strconv.FormatFloat(start.Seconds(), 'f', 1, 64),
		"{volume}", strconv.Itoa(e.clock.Volume()),
	)
	out := make([]string, len(e.args))
	for i, a := range e.args {
		out[i] = r.Replace(a)
	}
	return out
}

func (e *Exec) startLocked(locator string, start time.Duration) error {
	cmd := exec.Command(e.name, e.expand(locator, start)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", e.name, err)
	}
	e.gen++
	gen := e.gen
	e.cmd = cmd
	e.logger.Debug("track started", "locator", locator, "pid", cmd.Process.Pid)
	go e.wait(cmd, gen)
	return nil
}

func (e *Exec) wait(cmd *exec.Cmd, gen uint64) {
	err := cmd.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.cmd = nil
	if err != nil {
		e.logger.Warn("player program exited with error", "err", err)
	}
	e.clock.Stop()
	select {
	case e.finishedCh <- struct{}{}:
	default:
	}
}

func (e *Exec) killLocked() {
	if e.cmd == nil {
		return
	}
	e.gen++
	_ = e.cmd.Process.Kill()
	e.cmd = nil
}

// Verify Exec implements Interface at compile time.
var _ Interface = (*Exec)(nil)
