//go:build linux

package mpris

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/playback"
	"github.com/llehouerou/jukebox/internal/queue"
)

const commandTimeout = 5 * time.Second

// Adapter exposes a playback service over MPRIS. Every control goes
// through Service.Execute, the same path remote commands take.
type Adapter struct {
	server *server.Server
}

// New creates and starts a new MPRIS adapter.
func New(service playback.Service, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	player := &playerAdapter{
		service: service,
		logger:  logger.With("component", "mpris"),
	}
	a := &Adapter{
		server: server.NewServer("jukebox", &rootAdapter{}, player),
	}

	go func() {
		if err := a.server.Listen(); err != nil {
			player.logger.Warn("mpris server stopped", "err", err)
		}
	}()

	return a, nil
}

// Close stops the adapter and releases D-Bus resources.
func (a *Adapter) Close() error {
	return a.server.Stop()
}

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error {
	return nil // Not supported
}

func (r *rootAdapter) Quit() error {
	return nil // the daemon manages its own lifecycle
}

func (r *rootAdapter) CanQuit() (bool, error) {
	return false, nil
}

func (r *rootAdapter) CanRaise() (bool, error) {
	return false, nil
}

func (r *rootAdapter) HasTrackList() (bool, error) {
	return false, nil
}

func (r *rootAdapter) Identity() (string, error) {
	return "Jukebox", nil
}

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{"file", "http", "https"}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return []string{"video/mp4", "video/webm", "video/x-matroska", "audio/mpeg"}, nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter and optional interfaces.
type playerAdapter struct {
	service playback.Service
	logger  *slog.Logger
}

func (p *playerAdapter) exec(payload command.Payload) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := p.service.Execute(ctx, payload)
	if err != nil {
		return err
	}
	p.logger.Debug("mpris command", "type", string(payload.Type()), "result", res.Message)
	return nil
}

func (p *playerAdapter) Next() error {
	return p.exec(command.Skip{})
}

func (p *playerAdapter) Previous() error {
	return nil // queues only rotate forward
}

func (p *playerAdapter) Pause() error {
	return p.exec(command.Pause{})
}

func (p *playerAdapter) PlayPause() error {
	if p.service.State() == playback.StatePlaying {
		return p.exec(command.Pause{})
	}
	return p.exec(command.Play{})
}

// Stop pauses: the venue player has no separate stopped-but-loaded state.
func (p *playerAdapter) Stop() error {
	return p.exec(command.Pause{})
}

func (p *playerAdapter) Play() error {
	return p.exec(command.Play{})
}

func (p *playerAdapter) Seek(offset types.Microseconds) error {
	pos := max(p.service.Position()+time.Duration(offset)*time.Microsecond, 0)
	return p.exec(command.Seek{Position: pos})
}

func (p *playerAdapter) SetPosition(_ string, position types.Microseconds) error {
	return p.exec(command.Seek{Position: time.Duration(position) * time.Microsecond})
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(uri string) error {
	return p.exec(command.QueueAdd{Videos: []queue.Video{{Locator: uri}}})
}

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	switch p.service.State() {
	case playback.StatePlaying:
		return types.PlaybackStatusPlaying, nil
	case playback.StatePaused:
		return types.PlaybackStatusPaused, nil
	case playback.StateStopped:
		return types.PlaybackStatusStopped, nil
	}
	return types.PlaybackStatusStopped, nil
}

func (p *playerAdapter) Rate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) SetRate(_ float64) error {
	return nil // Not supported
}

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	video, _ := p.service.NowPlaying()
	if video == nil {
		return types.Metadata{}, nil
	}

	meta := types.Metadata{
		TrackId: dbus.ObjectPath(formatTrackID(video.Locator)),
		Length:  types.Microseconds(video.Duration.Microseconds()),
		Title:   video.Title,
		Album:   video.Playlist,
	}
	if video.Artist != "" {
		meta.Artist = []string{video.Artist}
	}
	if artPath := FindArtwork(video.Locator); artPath != "" {
		meta.ArtUrl = "file://" + artPath
	}

	return meta, nil
}

func (p *playerAdapter) Volume() (float64, error) {
	return float64(p.service.Volume()) / 100, nil
}

func (p *playerAdapter) SetVolume(v float64) error {
	level := int(v*100 + 0.5)
	return p.exec(command.SetVolume{Volume: min(max(level, 0), 100)})
}

func (p *playerAdapter) Position() (int64, error) {
	return p.service.Position().Microseconds(), nil
}

func (p *playerAdapter) MinimumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) MaximumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) CanGoNext() (bool, error) {
	q := p.service.Queue()
	return len(q.Active)+len(q.Priority) > 0 || q.NowPlaying != nil, nil
}

func (p *playerAdapter) CanGoPrevious() (bool, error) {
	return false, nil
}

func (p *playerAdapter) CanPlay() (bool, error) {
	return p.CanGoNext()
}

func (p *playerAdapter) CanPause() (bool, error) {
	return p.service.State() == playback.StatePlaying, nil
}

func (p *playerAdapter) CanSeek() (bool, error) {
	return p.service.State().IsActive(), nil
}

func (p *playerAdapter) CanControl() (bool, error) {
	return true, nil
}

// LoopStatus implements OrgMprisMediaPlayer2PlayerAdapterLoopStatus.
// Finished active-queue videos always go back to the tail.
func (p *playerAdapter) LoopStatus() (types.LoopStatus, error) {
	return types.LoopStatusPlaylist, nil
}

// SetLoopStatus implements OrgMprisMediaPlayer2PlayerAdapterLoopStatus.
func (p *playerAdapter) SetLoopStatus(types.LoopStatus) error {
	return nil
}

// Shuffle implements OrgMprisMediaPlayer2PlayerAdapterShuffle.
// Shuffling is a one-shot reorder, so there is no mode to report.
func (p *playerAdapter) Shuffle() (bool, error) {
	return false, nil
}

// SetShuffle implements OrgMprisMediaPlayer2PlayerAdapterShuffle.
func (p *playerAdapter) SetShuffle(shuffle bool) error {
	if !shuffle {
		return nil
	}
	return p.exec(command.QueueShuffle{Queue: queue.SourceActive})
}

func formatTrackID(locator string) string {
	h := fnv.New64a()
	h.Write([]byte(locator))
	return fmt.Sprintf("/org/mpris/MediaPlayer2/Track/%x", h.Sum64())
}
