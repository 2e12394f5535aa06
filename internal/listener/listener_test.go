package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/connection"
	"github.com/llehouerou/jukebox/internal/dispatch"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/timer"
)

const playerID = "bar"

type harness struct {
	l        *Listener
	store    *store.Mock
	bus      *push.Bus
	machine  *connection.Machine
	dispatch *dispatch.Dispatcher
	sched    *timer.Scheduler
	skips    atomic.Int32

	mu      sync.Mutex
	skipped []string // IDs in execution order
}

// newHarness must be called inside a synctest bubble.
func newHarness(t *testing.T, subscribeErr error) *harness {
	t.Helper()
	return newHarnessWith(t, subscribeErr, connection.DefaultConfig())
}

func newHarnessWith(t *testing.T, subscribeErr error, connCfg connection.Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store: store.NewMock(),
		bus:   push.NewBus(),
		sched: timer.NewScheduler(nil),
	}
	h.bus.SetSubscribeError(subscribeErr)
	h.machine = connection.New(connCfg, h.sched, logger)
	h.dispatch = dispatch.New(time.Second, logger)
	_ = h.dispatch.Handle(command.TypeSkip, func(_ context.Context, c command.Command) (*command.Result, error) {
		h.skips.Add(1)
		h.mu.Lock()
		h.skipped = append(h.skipped, c.ID)
		h.mu.Unlock()
		return &command.Result{Message: "skipped"}, nil
	})
	_ = h.dispatch.Handle(command.TypePause, func(context.Context, command.Command) (*command.Result, error) {
		return nil, errors.New("output unavailable")
	})
	h.l = New(DefaultConfig(playerID), Deps{
		Store:      h.store,
		Channel:    h.bus,
		Machine:    h.machine,
		Dispatcher: h.dispatch,
		Scheduler:  h.sched,
		Logger:     logger,
	})
	return h
}

func (h *harness) stop() {
	h.l.Stop()
	h.dispatch.Close()
	h.sched.Close()
}

func (h *harness) insert(t *testing.T, c command.Command) {
	t.Helper()
	if err := h.store.InsertCommand(context.Background(), c); err != nil {
		t.Fatalf("InsertCommand: %v", err)
	}
}

func (h *harness) publish(t *testing.T, c command.Command) {
	t.Helper()
	b, err := command.Encode(c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := h.bus.Publish(context.Background(), push.CommandTopic(c.TargetPlayerID), b); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func (h *harness) executed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.skipped...)
}

func skipCmd(id string) command.Command {
	return command.New(id, playerID, "console", command.Skip{}, time.Now())
}

func TestListener_PushExecutesAndWritesBack(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		acks := 0
		_, _ = h.bus.Subscribe(context.Background(), push.AckTopic(playerID), func([]byte) { acks++ }, nil)
		h.l.Start(context.Background())
		synctest.Wait()

		c := skipCmd("c1")
		h.insert(t, c)
		h.publish(t, c)
		synctest.Wait()

		if got := h.skips.Load(); got != 1 {
			t.Errorf("handler ran %d times, want 1", got)
		}
		row, _ := h.store.Command("c1")
		if row.Status != command.StatusExecuted {
			t.Errorf("row status = %s, want executed", row.Status)
		}
		if row.Result == nil || row.Result.Message != "skipped" {
			t.Errorf("row result = %+v, want skipped", row.Result)
		}
		if acks != 1 {
			t.Errorf("acks = %d, want 1", acks)
		}
	})
}

func TestListener_PushThenPollRunsOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		// Keep the row pending so the poll sees it again.
		h.store.UpdateHook = func(context.Context, string) error { return errors.New("store down") }
		h.l.Start(context.Background())
		synctest.Wait()

		c := skipCmd("x")
		h.insert(t, c)
		h.publish(t, c)
		time.Sleep(10 * time.Millisecond)
		h.bus.Fail(push.CommandTopic(playerID), push.StatusError, errors.New("socket reset"))
		synctest.Wait()

		if got := h.skips.Load(); got != 1 {
			t.Errorf("handler ran %d times, want 1", got)
		}
		exp := h.store.Expiries()
		if len(exp) != 1 || exp[0].ID != "x" || exp[0].Status != command.StatusExecuted {
			t.Errorf("expiries = %+v, want x executed", exp)
		}
	})
}

func TestListener_RepeatedDeliveryRunsOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		h.l.Start(context.Background())
		synctest.Wait()

		c := skipCmd("dup")
		h.insert(t, c)
		for range 5 {
			h.publish(t, c)
		}
		h.l.poll(false)
		h.publish(t, c)
		synctest.Wait()

		if got := h.skips.Load(); got != 1 {
			t.Errorf("handler ran %d times, want 1", got)
		}
	})
}

func TestListener_PollBackoffAndReset(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		defer h.stop()
		h.l.Start(context.Background())

		// polls at 0, 2, 4, 6, 8 are all empty
		time.Sleep(8*time.Second + 100*time.Millisecond)
		synctest.Wait()
		if got := h.store.Queries(); got != 5 {
			t.Fatalf("queries = %d, want 5", got)
		}
		if got := h.l.Interval(); got != 4*time.Second {
			t.Fatalf("interval = %v, want 4s", got)
		}

		h.insert(t, skipCmd("late"))
		time.Sleep(4 * time.Second)
		synctest.Wait()

		if got := h.store.Queries(); got != 6 {
			t.Fatalf("queries = %d, want 6", got)
		}
		if got := h.l.Interval(); got != 2*time.Second {
			t.Errorf("interval after new command = %v, want 2s", got)
		}
	})
}

func TestListener_PollErrorAfterSuccessResetsInterval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		defer h.stop()
		var fail atomic.Bool
		h.store.QueryHook = func(context.Context) error {
			if fail.Load() {
				return errors.New("timeout")
			}
			return nil
		}
		h.l.Start(context.Background())

		time.Sleep(8*time.Second + 100*time.Millisecond)
		synctest.Wait()
		if got := h.l.Interval(); got != 4*time.Second {
			t.Fatalf("interval = %v, want 4s", got)
		}

		fail.Store(true)
		time.Sleep(4 * time.Second)
		synctest.Wait()

		if got := h.l.Interval(); got != 2*time.Second {
			t.Errorf("interval after error = %v, want 2s", got)
		}
	})
}

func TestListener_PollSuppressedWhilePushHealthy(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		h.l.Start(context.Background())
		synctest.Wait()
		catchUp := h.store.Queries()

		time.Sleep(time.Minute)
		synctest.Wait()

		if got := h.store.Queries(); got != catchUp {
			t.Errorf("queries while push healthy = %d, want %d", got, catchUp)
		}
		if catchUp != 1 {
			t.Errorf("catch-up polls on connect = %d, want 1", catchUp)
		}
	})
}

func TestListener_BuffersWhileDisconnectedAndReplays(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		defer h.stop()
		h.insert(t, skipCmd("offline"))
		h.l.Start(context.Background())
		synctest.Wait()

		if got := h.skips.Load(); got != 0 {
			t.Fatalf("handler ran %d times while disconnected, want 0", got)
		}
		if h.machine.Queued() != 1 {
			t.Fatalf("queued = %d, want 1", h.machine.Queued())
		}

		h.bus.SetSubscribeError(nil)
		time.Sleep(time.Second + 10*time.Millisecond) // first reconnect attempt
		synctest.Wait()

		if h.machine.Status() != connection.Connected {
			t.Fatalf("status = %v, want connected", h.machine.Status())
		}
		if got := h.skips.Load(); got != 1 {
			t.Errorf("handler ran %d times after reconnect, want 1", got)
		}
	})
}

func TestListener_DropsForeignAndStale(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		h.l.Start(context.Background())
		synctest.Wait()

		foreign := command.New("f", "lounge", "", command.Skip{}, time.Now())
		b, _ := command.Encode(foreign)
		_ = h.bus.Publish(context.Background(), push.CommandTopic(playerID), b)
		h.publish(t, command.New("s", playerID, "", command.Skip{}, time.Now().Add(-10*time.Minute)))
		synctest.Wait()

		if got := h.skips.Load(); got != 0 {
			t.Errorf("handler ran %d times, want 0", got)
		}
	})
}

func TestListener_FailuresRecordedNotRetried(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		h.l.Start(context.Background())
		synctest.Wait()

		pause := command.New("p", playerID, "", command.Pause{}, time.Now())
		bad := command.New("v", playerID, "", command.SetVolume{Volume: 400}, time.Now())
		h.insert(t, pause)
		h.insert(t, bad)
		h.publish(t, pause)
		h.publish(t, bad)
		h.publish(t, pause)
		synctest.Wait()

		row, _ := h.store.Command("p")
		if row.Status != command.StatusFailed {
			t.Errorf("pause status = %s, want failed", row.Status)
		}
		if row.Result == nil || row.Result.Message != "Failed to pause playback: output unavailable" {
			t.Errorf("pause result = %+v", row.Result)
		}
		row, _ = h.store.Command("v")
		if row.Status != command.StatusFailed {
			t.Errorf("invalid command status = %s, want failed", row.Status)
		}
		updates := 0
		for _, u := range h.store.Updates() {
			if u.ID == "p" {
				updates++
			}
		}
		if updates != 1 {
			t.Errorf("pause written back %d times, want 1", updates)
		}
	})
}

func TestListener_StopCancelsPolling(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		h.l.Start(context.Background())
		synctest.Wait()

		h.stop()
		before := h.store.Queries()
		time.Sleep(time.Minute)

		if h.store.Queries() != before {
			t.Error("polling continued after Stop")
		}
		if h.sched.Pending(timer.Poll) {
			t.Error("poll timer still pending")
		}
	})
}

func TestListener_ReplaysBufferedAfterLongOutage(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		defer h.stop()
		h.insert(t, skipCmd("queued"))
		h.l.Start(context.Background())
		synctest.Wait()
		if h.machine.Queued() != 1 {
			t.Fatalf("queued = %d, want 1", h.machine.Queued())
		}

		// Outlive both the reconnect attempts and the command expiry window.
		time.Sleep(DefaultConfig(playerID).CommandExpiry + time.Minute)
		synctest.Wait()
		if !h.machine.Exhausted() {
			t.Fatal("expected reconnect attempts to be exhausted")
		}
		if h.machine.Queued() != 1 {
			t.Fatalf("queued after outage = %d, want 1", h.machine.Queued())
		}

		h.bus.SetSubscribeError(nil)
		h.machine.Reset()
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()

		if h.machine.Status() != connection.Connected {
			t.Fatalf("status = %v, want connected", h.machine.Status())
		}
		if got := h.skips.Load(); got != 1 {
			t.Errorf("handler ran %d times, want 1", got)
		}
		row, _ := h.store.Command("queued")
		if row.Status != command.StatusExecuted {
			t.Errorf("row status = %s, want executed", row.Status)
		}
	})
}

func TestListener_ReplaysInArrivalOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, errors.New("refused"))
		defer h.stop()
		for _, id := range []string{"first", "second", "third", "fourth"} {
			h.insert(t, skipCmd(id))
			time.Sleep(time.Millisecond)
		}
		h.l.Start(context.Background())
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()
		if h.machine.Queued() != 4 {
			t.Fatalf("queued = %d, want 4", h.machine.Queued())
		}

		h.bus.SetSubscribeError(nil)
		time.Sleep(time.Second + 10*time.Millisecond)
		synctest.Wait()

		got := strings.Join(h.executed(), ",")
		if got != "first,second,third,fourth" {
			t.Errorf("execution order = %s, want first,second,third,fourth", got)
		}
	})
}

func TestListener_BufferOverflowEvictsOldest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := connection.DefaultConfig()
		cfg.QueueCapacity = 2
		h := newHarnessWith(t, errors.New("refused"), cfg)
		defer h.stop()
		for _, id := range []string{"a", "b", "c"} {
			h.insert(t, skipCmd(id))
			time.Sleep(time.Millisecond)
		}
		h.l.Start(context.Background())
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()

		row, _ := h.store.Command("a")
		if row.Status != command.StatusFailed || row.Result == nil ||
			!strings.Contains(row.Result.Message, "offline command buffer full") {
			t.Fatalf("evicted row = %s %+v, want failed with buffer full", row.Status, row.Result)
		}

		// The next poll must not buffer the evicted command again.
		time.Sleep(2500 * time.Millisecond)
		synctest.Wait()
		if h.machine.Queued() != 2 {
			t.Fatalf("queued = %d, want 2", h.machine.Queued())
		}

		h.bus.SetSubscribeError(nil)
		time.Sleep(time.Second)
		synctest.Wait()

		if got := strings.Join(h.executed(), ","); got != "b,c" {
			t.Errorf("execution order = %s, want b,c", got)
		}
	})
}

func TestListener_PushTimeoutEnablesPolling(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil)
		defer h.stop()
		h.l.Start(context.Background())
		synctest.Wait()
		before := h.store.Queries()

		h.bus.Fail(push.CommandTopic(playerID), push.StatusTimedOut, errors.New("no reply"))
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()

		if h.machine.Status() != connection.Reconnecting {
			t.Errorf("status = %v, want reconnecting", h.machine.Status())
		}
		if h.l.PushHealthy() {
			t.Error("push still reported healthy")
		}
		if got := h.store.Queries(); got <= before {
			t.Errorf("queries = %d, want a poll after the timeout (was %d)", got, before)
		}
		if !h.sched.Pending(timer.Poll) {
			t.Error("next poll not scheduled")
		}
	})
}
