package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/llehouerou/jukebox/internal/app"
	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/config"
	"github.com/llehouerou/jukebox/internal/console"
	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/sender"
	"github.com/llehouerou/jukebox/internal/store"
)

// backendFlags are shared by every subcommand.
type backendFlags struct {
	config   string
	backend  string
	redis    string
	logLevel string
}

func (b *backendFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&b.config, "config", "c", "", "config file")
	fs.StringVar(&b.backend, "backend", "", "sqlite or redis (overrides backend)")
	fs.StringVar(&b.redis, "redis", "", "redis address (overrides redis.addr)")
	fs.StringVar(&b.logLevel, "log-level", "warn", "log level")
}

func (b *backendFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(b.config)
	if err != nil {
		return nil, nil, err
	}
	if b.backend != "" {
		cfg.Backend = b.backend
	}
	if b.redis != "" {
		cfg.Redis.Addr = b.redis
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(b.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func parse(fs *pflag.FlagSet, args []string) error {
	// pflag reports parse errors and prints the defaults itself.
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

type sendFlags struct {
	player   string
	typ      string
	payload  string
	wait     time.Duration
	issuedBy string
	asJSON   bool
}

func newSendFlags(b *backendFlags) (*pflag.FlagSet, *sendFlags) {
	f := &sendFlags{}
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	b.register(fs)
	fs.StringVarP(&f.player, "player", "p", "", "target player ID")
	fs.StringVarP(&f.typ, "type", "t", "", "command type: "+strings.Join(typeNames(), ", "))
	fs.StringVar(&f.payload, "payload", "", `payload JSON, e.g. '{"volume":40}'`)
	fs.DurationVarP(&f.wait, "wait", "w", 0, "wait this long for the player to execute the command")
	fs.StringVar(&f.issuedBy, "issued-by", "jukeboxctl", "issuer recorded on the command")
	fs.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
	return fs, f
}

func typeNames() []string {
	names := make([]string, len(command.Types))
	for i, t := range command.Types {
		names[i] = string(t)
	}
	return names
}

func runSend(ctx context.Context, args []string, out io.Writer) error {
	var b backendFlags
	fs, f := newSendFlags(&b)
	if err := parse(fs, args); err != nil {
		return err
	}
	if f.player == "" || f.typ == "" {
		fmt.Fprintln(os.Stderr, "--player and --type are required")
		fs.PrintDefaults()
		return errUsage
	}
	payload, err := command.DecodePayload(command.Type(f.typ), []byte(f.payload))
	if err != nil {
		return err
	}

	cfg, logger, err := b.load()
	if err != nil {
		return err
	}
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	s := sender.New(sender.Config{IssuedBy: f.issuedBy}, backend.Store, backend.Channel, logger)
	defer s.Close()
	return send(ctx, s, f, payload, out)
}

func send(ctx context.Context, s *sender.Sender, f *sendFlags, p command.Payload, out io.Writer) error {
	res, err := s.Send(ctx, f.player, p, sender.Options{Wait: f.wait})
	if err != nil {
		return err
	}
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	line := fmt.Sprintf("%s %s (%s)", res.Outcome, f.typ, res.CommandID)
	if res.Message != "" {
		line += ": " + res.Message
	}
	fmt.Fprintln(out, line)
	if res.Broadcast != nil {
		fmt.Fprintf(out, "warning: broadcast failed, the player will pick the command up by polling: %v\n", res.Broadcast)
	}
	if res.Outcome == sender.OutcomeFailed {
		return errors.New("command failed")
	}
	return nil
}

func runState(ctx context.Context, args []string, out io.Writer) error {
	var b backendFlags
	fs := pflag.NewFlagSet("state", pflag.ContinueOnError)
	b.register(fs)
	player := fs.StringP("player", "p", "", "player ID")
	asJSON := fs.Bool("json", false, "print the raw state as JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *player == "" {
		fmt.Fprintln(os.Stderr, "--player is required")
		return errUsage
	}

	cfg, logger, err := b.load()
	if err != nil {
		return err
	}
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	st, err := backend.Store.GetState(ctx, *player)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("player %q has not published any state", *player)
	}
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printState(out, *player, st)
	return nil
}

func printState(out io.Writer, player string, st store.State) {
	fmt.Fprintf(out, "player %s: %s, volume %d%%, connection %s, last seen %s (revision %d)\n",
		player, st.Status, st.Volume, orDash(st.Connection), humanize.Time(st.LastSeen), st.Revision)
	if st.NowPlaying != nil {
		fmt.Fprintf(out, "now playing: %s [%s] at %s\n",
			videoLabel(*st.NowPlaying), st.NowPlayingSource, st.Position)
	} else {
		fmt.Fprintln(out, "now playing: -")
	}
	printQueue(out, "priority", st.Priority)
	printQueue(out, "active", st.Active)
}

func printQueue(out io.Writer, name string, videos []queue.Video) {
	fmt.Fprintf(out, "%s queue (%d):\n", name, len(videos))
	for i, v := range videos {
		fmt.Fprintf(out, "  %3d. %s\n", i+1, videoLabel(v))
	}
}

func videoLabel(v queue.Video) string {
	label := v.Title
	if label == "" {
		label = v.Locator
	}
	if v.Artist != "" {
		label = v.Artist + " - " + label
	}
	if v.Duration > 0 {
		label += " (" + v.Duration.String() + ")"
	}
	return label
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runServe(ctx context.Context, args []string) error {
	var b backendFlags
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	b.register(fs)
	listen := fs.StringP("listen", "l", "", "address to listen on (overrides console.listen)")
	maxWait := fs.Duration("max-wait", console.DefaultMaxWait, "upper bound for a request's ack wait")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, logger, err := b.load()
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Console.Listen = *listen
	}
	if !cfg.HasConsole() {
		return fmt.Errorf("%w: --listen or console.listen is required", errUsage)
	}
	if cfg.GetBackend() == config.BackendSQLite {
		logger.Warn("sqlite backend: players in other processes only see commands by polling")
	}

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	s := sender.New(sender.Config{IssuedBy: "console"}, backend.Store, backend.Channel, logger)
	defer s.Close()
	srv := console.New(console.Config{Listen: cfg.Console.Listen, MaxWait: *maxWait}, console.Deps{
		Sender:  s,
		Store:   backend.Store,
		Channel: backend.Channel,
		Logger:  logger,
	})
	return srv.ListenAndServe(ctx)
}
