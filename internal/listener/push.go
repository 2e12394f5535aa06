package listener

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/timer"
)

var errPushClosed = errors.New("push subscription closed")

// subscribe (re)opens the command subscription. It is also the reconnect
// func of the connection machine.
func (l *Listener) subscribe() {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return
	}
	l.subGen++
	gen := l.subGen
	old := l.handle
	l.handle = nil
	ctx := l.ctx
	l.mu.Unlock()

	if old != nil {
		_ = l.channel.Unsubscribe(old)
	}

	h, err := l.channel.Subscribe(ctx, push.CommandTopic(l.cfg.PlayerID),
		l.onMessage,
		func(s push.Status, err error) { l.onStatus(gen, s, err) },
	)
	if err != nil {
		l.errs.Warn("subscribe", "command subscription failed", err)
		return
	}
	l.mu.Lock()
	if l.subGen == gen && !l.stopping {
		l.handle = h
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	_ = l.channel.Unsubscribe(h)
}

func (l *Listener) onMessage(b []byte) {
	c, err := command.Decode(b)
	if err != nil {
		l.errs.Warn("decode", "dropping undecodable push message", err)
		return
	}
	l.deliver(c, viaPush)
}

// onStatus maps subscription health onto the connection machine and the
// poll path. Stale generations belong to replaced subscriptions.
func (l *Listener) onStatus(gen uint64, s push.Status, err error) {
	l.mu.Lock()
	if gen != l.subGen || l.stopping {
		l.mu.Unlock()
		return
	}
	wasHealthy := l.pushHealthy
	l.pushHealthy = s.Healthy()
	if !s.Healthy() {
		l.handle = nil
		if wasHealthy {
			l.interval = l.cfg.PollInterval
			l.emptyPolls = 0
		}
	}
	l.mu.Unlock()

	if s.Healthy() {
		l.sched.Cancel(timer.Poll)
		l.machine.Connected()
		return
	}

	if err == nil {
		err = errPushClosed
	}
	l.logger.Warn("push degraded, polling enabled", "status", s.String(), "err", err)
	if wasHealthy || !l.sched.Pending(timer.Poll) {
		l.schedulePoll(0)
	}
	l.machine.Fail(fmt.Errorf("push %s: %w", s, err))
}

func encodeAck(a command.Ack) ([]byte, error) {
	return json.Marshal(a)
}
