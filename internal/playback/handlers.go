package playback

import (
	"context"
	"fmt"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/dispatch"
	"github.com/llehouerou/jukebox/internal/media"
	"github.com/llehouerou/jukebox/internal/player"
	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
)

func (s *serviceImpl) register() error {
	handlers := map[command.Type]dispatch.Handler{
		command.TypeSkip:         s.handleSkip,
		command.TypePlay:         s.handlePlay,
		command.TypePause:        s.handlePause,
		command.TypeResume:       s.handleResume,
		command.TypeSetVolume:    s.handleSetVolume,
		command.TypeSeek:         s.handleSeek,
		command.TypeQueueAdd:     s.handleQueueAdd,
		command.TypeQueueRemove:  s.handleQueueRemove,
		command.TypeQueueClear:   s.handleQueueClear,
		command.TypeQueueShuffle: s.handleQueueShuffle,
		command.TypeLoadPlaylist: s.handleLoadPlaylist,
	}
	for _, t := range command.Types {
		if err := s.dispatcher.Handle(t, s.observe(handlers[t])); err != nil {
			return err
		}
	}
	return nil
}

// observe reports the outcome of every run of h to subscribers.
func (s *serviceImpl) observe(h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, c command.Command) (*command.Result, error) {
		res, err := h(ctx, c)
		done := CommandDone{ID: c.ID, Type: c.Type, IssuedBy: c.IssuedBy, Status: command.StatusExecuted}
		if res != nil {
			done.Message = res.Message
		}
		if err != nil {
			done.Status = command.StatusFailed
			done.Message = err.Error()
		}
		s.sendCommandDone(done)
		return res, err
	}
}

func payload[T command.Payload](c command.Command) (T, error) {
	p, ok := c.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s payload is %T", command.ErrInvalid, c.Type, c.Payload)
	}
	return p, nil
}

func result(format string, args ...any) *command.Result {
	return &command.Result{Message: fmt.Sprintf(format, args...)}
}

func describe(v *queue.Video) string {
	if v == nil {
		return ""
	}
	if v.Artist == "" {
		return v.Title
	}
	return v.Artist + " - " + v.Title
}

// nowPlayingResult describes a track change as a command result.
func nowPlayingResult(t *TrackChange) *command.Result {
	if t == nil || t.Current == nil {
		return result("Queue is empty, playback stopped")
	}
	return result("Now playing: %s", describe(t.Current))
}

func (s *serviceImpl) handleSkip(context.Context, command.Command) (*command.Result, error) {
	s.mu.Lock()
	track, err := s.rotateLocked()
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, track, true)
	s.publish(store.FieldQueue|store.FieldStatus|store.FieldPosition, true)
	if err != nil {
		return nil, err
	}
	return nowPlayingResult(track), nil
}

func (s *serviceImpl) handlePlay(context.Context, command.Command) (*command.Result, error) {
	s.mu.Lock()
	var (
		track *TrackChange
		err   error
	)
	switch s.player.State() {
	case player.Playing:
		s.mu.Unlock()
		return result("Already playing"), nil
	case player.Paused:
		s.player.Resume()
	case player.Stopped:
		if np, src := s.engine.NowPlaying(); np != nil {
			err = s.playLocked(np)
			track = &TrackChange{Current: np, Source: src}
		} else {
			track, err = s.startLocked()
		}
	}
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, track, track != nil)
	if err != nil {
		return nil, err
	}
	if track != nil {
		s.publish(store.FieldQueue|store.FieldStatus|store.FieldPosition, true)
		return nowPlayingResult(track), nil
	}
	s.publish(store.FieldStatus|store.FieldPosition, false)
	return result("Playback resumed"), nil
}

func (s *serviceImpl) handlePause(context.Context, command.Command) (*command.Result, error) {
	s.mu.Lock()
	if !s.player.State().CanPause() {
		s.mu.Unlock()
		return result("Nothing is playing"), nil
	}
	s.player.Pause()
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, nil, false)
	s.publish(store.FieldStatus|store.FieldPosition, false)
	return result("Playback paused"), nil
}

func (s *serviceImpl) handleResume(context.Context, command.Command) (*command.Result, error) {
	s.mu.Lock()
	if !s.player.State().CanResume() {
		s.mu.Unlock()
		return result("Playback is not paused"), nil
	}
	s.player.Resume()
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, nil, false)
	s.publish(store.FieldStatus|store.FieldPosition, false)
	return result("Playback resumed"), nil
}

func (s *serviceImpl) handleSetVolume(_ context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.SetVolume](c)
	if err != nil {
		return nil, err
	}
	s.player.SetVolume(p.Volume)
	s.sendVolume(p.Volume)
	s.publish(store.FieldVolume, false)
	return result("Volume set to %d%%", p.Volume), nil
}

func (s *serviceImpl) handleSeek(_ context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.Seek](c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	err = s.player.Seek(p.Position)
	change := s.syncStateLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.emit(change, nil, false)
	s.sendPosition(p.Position)
	s.publish(store.FieldPosition|store.FieldStatus, false)
	return result("Position set to %s", p.Position), nil
}

func (s *serviceImpl) handleQueueAdd(ctx context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.QueueAdd](c)
	if err != nil {
		return nil, err
	}
	videos, err := media.ResolveAll(ctx, s.media, p.Videos)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	target := "queue"
	switch {
	case p.Priority:
		s.engine.AddPriority(videos...)
		target = "priority queue"
	case p.Position != nil:
		for i, v := range videos {
			s.engine.InsertActive(*p.Position+i, v)
		}
	default:
		s.engine.AddActive(videos...)
	}
	track, started := s.autoplayLocked()
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, track, true)
	s.publish(store.FieldQueue|store.FieldStatus, started)
	if len(videos) == 1 {
		return result("Added %s to the %s", describe(&videos[0]), target), nil
	}
	return result("Added %d videos to the %s", len(videos), target), nil
}

// autoplayLocked starts playback when the player sits idle with nothing
// loaded. Play errors are reported as events only: the videos are queued
// either way.
func (s *serviceImpl) autoplayLocked() (*TrackChange, bool) {
	if !s.cfg.Autoplay || s.player.State() != player.Stopped {
		return nil, false
	}
	if np, _ := s.engine.NowPlaying(); np != nil {
		return nil, false
	}
	track, err := s.startLocked()
	if err != nil {
		s.logger.Warn("autoplay failed", "err", err)
	}
	return track, track != nil
}

func (s *serviceImpl) handleQueueRemove(_ context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.QueueRemove](c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	n := s.engine.Len(p.Queue)
	ok := s.engine.Remove(p.Queue, p.Index)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("index %d out of range for %s queue of %d", p.Index, p.Queue, n)
	}
	s.emit(nil, nil, true)
	s.publish(store.FieldQueue, false)
	return result("Removed entry %d from the %s queue", p.Index, p.Queue), nil
}

func (s *serviceImpl) handleQueueClear(_ context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.QueueClear](c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.engine.Clear(p.Queue)
	s.mu.Unlock()
	s.emit(nil, nil, true)
	s.publish(store.FieldQueue, false)
	return result("Cleared the %s queue", p.Queue), nil
}

func (s *serviceImpl) handleQueueShuffle(_ context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.QueueShuffle](c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.engine.Shuffle(p.Queue, p.KeepFirst)
	s.mu.Unlock()
	s.emit(nil, nil, true)
	s.publish(store.FieldQueue, true)
	return result("Shuffled the %s queue", p.Queue), nil
}

func (s *serviceImpl) handleLoadPlaylist(ctx context.Context, c command.Command) (*command.Result, error) {
	p, err := payload[command.LoadPlaylist](c)
	if err != nil {
		return nil, err
	}
	videos, err := media.ResolveAll(ctx, s.media, p.Videos)
	if err != nil {
		return nil, err
	}
	for i := range videos {
		if videos[i].Playlist == "" {
			videos[i].Playlist = p.Name
		}
	}

	s.mu.Lock()
	s.engine.ReplaceActive(videos)
	var track *TrackChange
	if p.Play && len(videos) > 0 {
		s.engine.Stop()
		track, err = s.startLocked()
	} else {
		track, _ = s.autoplayLocked()
	}
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, track, true)
	s.publish(store.FieldQueue|store.FieldStatus|store.FieldPosition, track != nil)
	if err != nil {
		return nil, err
	}
	if track != nil {
		return result("Loaded playlist %q (%d videos), now playing %s", p.Name, len(videos), describe(track.Current)), nil
	}
	return result("Loaded playlist %q (%d videos)", p.Name, len(videos)), nil
}
