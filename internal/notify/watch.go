package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llehouerou/jukebox/internal/connection"
)

const (
	eventBuffer      = 16
	recoveredTimeout = 5 * time.Second
)

// Watcher raises a desktop notification when a player gives up
// reconnecting, and replaces it once the connection comes back.
type Watcher struct {
	notifier Notifier
	playerID string
	logger   *slog.Logger

	events      chan connection.Event
	done        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	closeOnce   sync.Once

	// owned by run
	id    uint32
	since time.Time
}

// Watch starts watching m. Notifications are sent from a separate goroutine
// so a slow notification daemon never stalls the machine's observers.
func Watch(m *connection.Machine, n Notifier, playerID string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		notifier: n,
		playerID: playerID,
		logger:   logger.With("component", "notify"),
		events:   make(chan connection.Event, eventBuffer),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	w.unsubscribe = m.Subscribe(func(e connection.Event) {
		select {
		case w.events <- e:
		default:
			w.logger.Warn("dropping connection event", "status", e.Status.String())
		}
	})
	return w
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.events:
			w.handle(e)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(e connection.Event) {
	switch {
	case errors.Is(e.Err, connection.ErrReconnectExhausted):
		w.since = time.Now()
		w.send(Notification{
			Title:      fmt.Sprintf("Player %s is offline", w.playerID),
			Body:       fmt.Sprintf("Gave up reconnecting after %d attempts. Send SIGHUP to retry.", e.Attempt),
			Category:   CategoryDisconnected,
			Sticky:     true,
			ReplacesID: w.id,
			Urgency:    UrgencyCritical,
		})
	case e.Status == connection.Connected && w.id != 0:
		w.send(Notification{
			Title:      fmt.Sprintf("Player %s is back online", w.playerID),
			Body:       "Offline for " + strings.TrimSpace(humanize.RelTime(w.since, time.Now(), "", "")),
			Category:   CategoryConnected,
			ReplacesID: w.id,
			Timeout:    recoveredTimeout,
			Urgency:    UrgencyLow,
		})
		w.id = 0
	}
}

func (w *Watcher) send(n Notification) {
	id, err := w.notifier.Notify(n)
	if err != nil {
		w.logger.Warn("notification failed", "err", err)
		return
	}
	if n.Urgency == UrgencyCritical {
		w.id = id
	}
}

// Close stops watching. Pending events are discarded.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.unsubscribe()
		close(w.done)
		w.wg.Wait()
	})
}
