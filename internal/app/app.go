// Package app wires the jukebox daemon together: store and push backend,
// command intake, playback and the optional console and desktop surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llehouerou/jukebox/internal/config"
	"github.com/llehouerou/jukebox/internal/connection"
	"github.com/llehouerou/jukebox/internal/console"
	"github.com/llehouerou/jukebox/internal/dedup"
	"github.com/llehouerou/jukebox/internal/dispatch"
	"github.com/llehouerou/jukebox/internal/errlog"
	"github.com/llehouerou/jukebox/internal/listener"
	"github.com/llehouerou/jukebox/internal/media"
	"github.com/llehouerou/jukebox/internal/mpris"
	"github.com/llehouerou/jukebox/internal/notify"
	"github.com/llehouerou/jukebox/internal/playback"
	"github.com/llehouerou/jukebox/internal/player"
	"github.com/llehouerou/jukebox/internal/publisher"
	"github.com/llehouerou/jukebox/internal/push"
	pushredis "github.com/llehouerou/jukebox/internal/push/redis"
	"github.com/llehouerou/jukebox/internal/sender"
	"github.com/llehouerou/jukebox/internal/store"
	storeredis "github.com/llehouerou/jukebox/internal/store/redis"
	"github.com/llehouerou/jukebox/internal/store/sqlite"
	"github.com/llehouerou/jukebox/internal/timer"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Backend is an opened store and its push channel.
type Backend struct {
	Store   store.Store
	Channel push.Channel
	redis   *redis.Client
}

// Close releases the channel, the store and the redis client if any.
func (b *Backend) Close() error {
	errs := []error{b.Channel.Close(), b.Store.Close()}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// OpenBackend opens the configured backend. SQLite pairs with an
// in-process bus, so only local senders get push delivery; remote ones
// are picked up by polling. Redis shares both the store and pub/sub.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.GetBackend() {
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return &Backend{Store: st, Channel: push.NewBus()}, nil
	case config.BackendRedis:
		rcfg := cfg.GetRedisConfig()
		rc := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := rc.Ping(pctx).Err(); err != nil {
			rc.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", rcfg.Addr, err)
		}
		return &Backend{
			Store:   storeredis.New(rc, rcfg.CommandTTL),
			Channel: pushredis.New(rc, rcfg.SubscribeTimeout, logger),
			redis:   rc,
		}, nil
	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

// App is one running player.
type App struct {
	cfg      *config.Config
	playerID string
	logger   *slog.Logger

	backend   *Backend
	sched     *timer.Scheduler
	disp      *dispatch.Dispatcher
	machine   *connection.Machine
	output    player.Interface
	publisher *publisher.Publisher
	playback  playback.Service
	listener  *listener.Listener
	sender    *sender.Sender
	console   *console.Server
}

// New builds every component on an opened backend. Nothing runs until Run.
func New(cfg *config.Config, backend *Backend, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	playerID := cfg.GetPlayerID()
	syncCfg := cfg.GetSyncConfig()
	pbCfg := cfg.GetPlaybackConfig()
	logger = logger.With("player", playerID)

	var output player.Interface = player.New(pbCfg.DefaultDuration)
	if pbCfg.Command != "" {
		e, err := player.NewExec(pbCfg.Command, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring playback command: %w", err)
		}
		output = e
	}

	sched := timer.NewScheduler(nil)
	disp := dispatch.New(syncCfg.CommandTimeout, logger)
	errs := errlog.New(logger, syncCfg.ErrorWindow, nil)
	machine := connection.New(connection.Config{
		BaseDelay:     syncCfg.ReconnectBase,
		MaxDelay:      syncCfg.ReconnectMax,
		MaxAttempts:   syncCfg.ReconnectAttempts,
		QueueCapacity: syncCfg.QueuedCommands,
	}, sched, logger)

	pub := publisher.New(publisher.Config{
		PlayerID:    playerID,
		Debounce:    syncCfg.Debounce,
		ErrorWindow: syncCfg.ErrorWindow,
		Broadcast:   true,
	}, publisher.Deps{
		Store:     backend.Store,
		Channel:   backend.Channel,
		Scheduler: sched,
		Errors:    errs,
		Logger:    logger,
	})

	svc, err := playback.New(playback.Config{
		PlayerID:  playerID,
		Heartbeat: syncCfg.Heartbeat,
		Autoplay:  *pbCfg.Autoplay,
	}, playback.Deps{
		Player:     output,
		Media:      media.NewResolver(pbCfg.MediaRoot),
		Publisher:  pub,
		Dispatcher: disp,
		Scheduler:  sched,
		Machine:    machine,
		Store:      backend.Store,
		Logger:     logger,
	})
	if err != nil {
		disp.Close()
		sched.Close()
		return nil, fmt.Errorf("creating playback service: %w", err)
	}

	l := listener.New(listener.Config{
		PlayerID:                playerID,
		PollInterval:            syncCfg.PollInterval,
		PollMaxInterval:         syncCfg.PollMaxInterval,
		EmptyPollsBeforeBackoff: syncCfg.EmptyPollsBeforeBackoff,
		CommandExpiry:           syncCfg.CommandExpiry,
	}, listener.Deps{
		Store:      backend.Store,
		Channel:    backend.Channel,
		Machine:    machine,
		Dispatcher: disp,
		Ledger:     dedup.New(syncCfg.ProcessedCapacity),
		Scheduler:  sched,
		Errors:     errs,
		Logger:     logger,
	})

	a := &App{
		cfg:       cfg,
		playerID:  playerID,
		logger:    logger,
		backend:   backend,
		sched:     sched,
		disp:      disp,
		machine:   machine,
		output:    output,
		publisher: pub,
		playback:  svc,
		listener:  l,
		sender:    sender.New(sender.Config{IssuedBy: "console"}, backend.Store, backend.Channel, logger),
	}
	if cfg.HasConsole() {
		a.console = console.New(console.Config{Listen: cfg.Console.Listen}, console.Deps{
			Sender:  a.sender,
			Store:   backend.Store,
			Channel: backend.Channel,
			Logger:  logger,
		})
	}
	return a, nil
}

// Sender returns the command sender sharing this player's backend.
func (a *App) Sender() *sender.Sender {
	return a.sender
}

// Playback returns the playback service.
func (a *App) Playback() playback.Service {
	return a.playback
}

// Reconnect starts a fresh reconnect sequence after the machine gave up.
func (a *App) Reconnect() {
	a.logger.Info("manual reconnect requested")
	a.machine.Reset()
}

// Run starts the player and blocks until ctx is done or the console fails,
// then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.playback.Start(ctx); err != nil {
		a.shutdown()
		return err
	}
	a.listener.Start(ctx)

	if a.cfg.HasNotifications() {
		n, err := notify.New()
		if err != nil {
			a.logger.Warn("desktop notifications unavailable", "err", err)
		} else {
			w := notify.Watch(a.machine, n, a.playerID, a.logger)
			defer w.Close()
		}
	}
	if a.cfg.HasMPRIS() {
		m, err := mpris.New(a.playback, a.logger)
		if err != nil {
			a.logger.Warn("mpris unavailable", "err", err)
		} else {
			defer m.Close()
		}
	}

	a.logger.Info("player running", "backend", a.cfg.GetBackend())

	var runErr error
	if a.console != nil {
		runErr = a.console.ListenAndServe(ctx)
	} else {
		<-ctx.Done()
	}
	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.logger.Info("shutting down")
	a.listener.Stop()
	_ = a.sender.Close()
	_ = a.playback.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.publisher.Close(ctx); err != nil {
		a.logger.Warn("final state publish incomplete", "err", err)
	}
	a.disp.Close()
	a.sched.Close()
	if err := a.output.Close(); err != nil {
		a.logger.Warn("closing output", "err", err)
	}
}
