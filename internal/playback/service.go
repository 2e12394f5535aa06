package playback

import (
	"context"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/player"
	"github.com/llehouerou/jukebox/internal/queue"
)

// Service defines the playback service contract.
type Service interface {
	// Lifecycle
	Start(ctx context.Context) error
	Close() error

	// Execute runs a locally issued command (desktop controls, tests) on
	// the dispatch goroutine, the same path remote commands take.
	Execute(ctx context.Context, p command.Payload) (*command.Result, error)

	// State queries, safe from any goroutine
	State() State
	NowPlaying() (*queue.Video, queue.Source)
	Queue() queue.State
	Position() time.Duration
	Volume() int
	Player() player.Interface

	// Event subscription
	Subscribe() *Subscription
}
