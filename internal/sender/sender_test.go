package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
)

const playerID = "bar"

// fakePlayer answers commands after delay by updating the row and, when
// acks is set, publishing an ack.
type fakePlayer struct {
	store  *store.Mock
	bus    *push.Bus
	delay  time.Duration
	acks   bool
	status command.Status
	msg    string
}

func (f *fakePlayer) start(t *testing.T) {
	t.Helper()
	_, err := f.bus.Subscribe(context.Background(), push.CommandTopic(playerID), func(b []byte) {
		c, err := command.Decode(b)
		if err != nil {
			return
		}
		go f.answer(c.ID)
	}, nil)
	require.NoError(t, err)
}

func (f *fakePlayer) answer(id string) {
	time.Sleep(f.delay)
	res := &command.Result{Message: f.msg}
	_ = f.store.UpdateCommandStatus(context.Background(), id, f.status, res)
	if !f.acks {
		return
	}
	b, _ := json.Marshal(command.Ack{ID: id, PlayerID: playerID, Status: f.status, Result: res, At: time.Now()})
	_ = f.bus.Publish(context.Background(), push.AckTopic(playerID), b)
}

func newSender(st *store.Mock, bus *push.Bus) *Sender {
	return New(Config{IssuedBy: "console"}, st, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSender_SendWithoutWait(t *testing.T) {
	st := store.NewMock()
	bus := push.NewBus()
	s := newSender(st, bus)
	defer s.Close()

	res, err := s.Send(context.Background(), playerID, command.Skip{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.NoError(t, res.Broadcast)

	row, ok := st.Command(res.CommandID)
	require.True(t, ok)
	assert.Equal(t, command.StatusPending, row.Status)
	assert.Equal(t, "console", row.IssuedBy)
	assert.Equal(t, command.TypeSkip, row.Type)
	assert.Equal(t, 1, bus.Published(push.CommandTopic(playerID)))
}

func TestSender_WaitResolvesOnAck(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := store.NewMock()
		bus := push.NewBus()
		(&fakePlayer{store: st, bus: bus, delay: 200 * time.Millisecond, acks: true,
			status: command.StatusExecuted, msg: "skipped"}).start(t)
		s := newSender(st, bus)
		defer s.Close()

		start := time.Now()
		res, err := s.Send(context.Background(), playerID, command.Skip{}, Options{Wait: 5 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, OutcomeExecuted, res.Outcome)
		assert.Equal(t, "skipped", res.Message)
		assert.Equal(t, 200*time.Millisecond, time.Since(start))
		synctest.Wait()
	})
}

func TestSender_FailedAckIsNotNoAck(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := store.NewMock()
		bus := push.NewBus()
		(&fakePlayer{store: st, bus: bus, delay: 10 * time.Millisecond, acks: true,
			status: command.StatusFailed, msg: "Failed to pause playback: no output"}).start(t)
		s := newSender(st, bus)
		defer s.Close()

		res, err := s.Send(context.Background(), playerID, command.Pause{}, Options{Wait: time.Second})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, "Failed to pause playback: no output", res.Message)
		synctest.Wait()
	})
}

func TestSender_PollFallbackWithoutAcks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := store.NewMock()
		bus := push.NewBus()
		(&fakePlayer{store: st, bus: bus, delay: 1200 * time.Millisecond,
			status: command.StatusExecuted}).start(t)
		bus.SetSubscribeError(errors.New("acl: no subscribe"))
		s := newSender(st, bus)
		defer s.Close()

		start := time.Now()
		res, err := s.Send(context.Background(), playerID, command.Skip{}, Options{Wait: 5 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, OutcomeExecuted, res.Outcome)
		// first poll tick after the row changed
		assert.Equal(t, 1500*time.Millisecond, time.Since(start))
		synctest.Wait()
	})
}

func TestSender_TimeoutIsNoAck(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := store.NewMock()
		bus := push.NewBus()
		s := newSender(st, bus)
		defer s.Close()

		start := time.Now()
		res, err := s.Send(context.Background(), playerID, command.Skip{}, Options{Wait: 2 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoAck, res.Outcome)
		assert.Equal(t, 2*time.Second, time.Since(start))
		assert.NotEmpty(t, res.CommandID)
	})
}

func TestSender_BroadcastFailureNotFatal(t *testing.T) {
	st := store.NewMock()
	bus := push.NewBus()
	bus.SetPublishError(errors.New("broker down"))
	s := newSender(st, bus)
	defer s.Close()

	res, err := s.Send(context.Background(), playerID, command.SetVolume{Volume: 30}, Options{})
	require.NoError(t, err)
	assert.Error(t, res.Broadcast)
	_, ok := st.Command(res.CommandID)
	assert.True(t, ok, "row must be stored for the poll path")
}

func TestSender_InvalidCommandRejected(t *testing.T) {
	st := store.NewMock()
	s := newSender(st, push.NewBus())
	defer s.Close()

	_, err := s.Send(context.Background(), playerID, command.SetVolume{Volume: 101}, Options{})
	require.ErrorIs(t, err, command.ErrInvalid)

	_, err = s.Send(context.Background(), "", command.Skip{}, Options{})
	require.ErrorIs(t, err, command.ErrInvalid)
}

func TestSender_StoreErrorReturned(t *testing.T) {
	st := store.NewMock()
	st.InsertHook = func(context.Context, command.Command) error { return errors.New("disk full") }
	s := newSender(st, push.NewBus())
	defer s.Close()

	_, err := s.Send(context.Background(), playerID, command.Skip{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSender_ReusesAckSubscription(t *testing.T) {
	st := store.NewMock()
	bus := push.NewBus()
	s := newSender(st, bus)

	for range 3 {
		_, err := s.Send(context.Background(), playerID, command.Skip{}, Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, bus.Subscribers(push.AckTopic(playerID)))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, bus.Subscribers(push.AckTopic(playerID)))
	_, err := s.Send(context.Background(), playerID, command.Skip{}, Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSender_ResubscribesAfterLoss(t *testing.T) {
	st := store.NewMock()
	bus := push.NewBus()
	s := newSender(st, bus)
	defer s.Close()

	_, err := s.Send(context.Background(), playerID, command.Skip{}, Options{})
	require.NoError(t, err)
	bus.Fail(push.AckTopic(playerID), push.StatusError, errors.New("reset"))
	assert.Equal(t, 0, bus.Subscribers(push.AckTopic(playerID)))

	_, err = s.Send(context.Background(), playerID, command.Skip{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers(push.AckTopic(playerID)))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "no_ack", OutcomeNoAck.String())
	b, err := OutcomeExecuted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "executed", string(b))
}
