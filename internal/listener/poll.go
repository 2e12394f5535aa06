package listener

import (
	"context"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/timer"
)

const pollTimeout = 10 * time.Second

func (l *Listener) schedulePoll(d time.Duration) {
	l.mu.Lock()
	skip := l.stopping || l.pushHealthy || l.pollsDisabled
	l.mu.Unlock()
	if skip {
		return
	}
	l.sched.Schedule(timer.Poll, d, l.pollTick)
}

// pollTick runs on the timer goroutine.
func (l *Listener) pollTick() {
	l.mu.Lock()
	skip := l.stopping || l.pushHealthy
	l.mu.Unlock()
	if skip {
		return
	}
	l.poll(true)
	l.schedulePoll(l.Interval())
}

// poll fetches pending commands once. With adjust the result feeds the
// adaptive interval; the catch-up poll on reconnect leaves it alone.
func (l *Listener) poll(adjust bool) {
	l.mu.Lock()
	if l.pollsDisabled || l.stopping {
		l.mu.Unlock()
		return
	}
	parent := l.ctx
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, pollTimeout)
	defer cancel()

	since := time.Now().Add(-l.cfg.CommandExpiry)
	cmds, err := l.store.QueryPendingCommands(ctx, l.cfg.PlayerID, since)
	if err != nil && l.guard.Check(ctx, err) {
		cmds, err = l.store.QueryPendingCommands(ctx, l.cfg.PlayerID, since)
	}
	if err != nil {
		if parent.Err() != nil {
			return
		}
		l.errs.Warn("poll", "poll failed", err)
		l.mu.Lock()
		if l.guard.Disabled() {
			l.pollsDisabled = true
		}
		if adjust && l.lastPollOK {
			l.interval = l.cfg.PollInterval
			l.emptyPolls = 0
		}
		l.lastPollOK = false
		l.mu.Unlock()
		return
	}

	fresh, expired := l.intake(parent, cmds)
	if len(expired) > 0 {
		if err := l.store.ExpireCommands(ctx, expired); err != nil {
			l.errs.Warn("expire", "garbage collection of processed commands failed", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPollOK = true
	if !adjust {
		return
	}
	if fresh > 0 {
		l.interval = l.cfg.PollInterval
		l.emptyPolls = 0
		return
	}
	l.emptyPolls++
	if l.emptyPolls >= l.cfg.EmptyPollsBeforeBackoff {
		l.interval = min(l.interval*2, l.cfg.PollMaxInterval)
		l.emptyPolls = 0
		l.logger.Debug("no commands, slowing down polling", "interval", l.interval)
	}
}

// intake sorts polled rows on the dispatch goroutine: unseen IDs are
// processed, rows whose command already finished are returned for
// garbage collection.
func (l *Listener) intake(ctx context.Context, cmds []command.Command) (fresh int, expired []store.StatusUpdate) {
	if len(cmds) == 0 {
		return 0, nil
	}
	err := l.dispatcher.Do(ctx, func() {
		for _, c := range cmds {
			if l.ledger.IsProcessed(c.ID) {
				if s, ok := l.ledger.Status(c.ID); ok && s.Terminal() {
					expired = append(expired, store.StatusUpdate{ID: c.ID, Status: s})
				}
				continue
			}
			if l.process(c, viaPoll) {
				fresh++
			}
		}
	})
	if err != nil {
		return 0, nil
	}
	return fresh, expired
}
