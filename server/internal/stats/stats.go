// Package stats computes the dashboard summary of the hub from the presence
// store, the message channel and the poll engine.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/collabhub/collabhub/server/internal/chat"
	"github.com/collabhub/collabhub/server/internal/polls"
	"github.com/collabhub/collabhub/server/internal/store"
)

// DefaultTimeout bounds one Collect call.
const DefaultTimeout = 3 * time.Second

// Payload is the body of dashboard:stats and dashboard:statsUpdate.
type Payload struct {
	UserStats    store.UserCounts `json:"userStats"`
	MessageStats chat.Counts      `json:"messageStats"`
	PollStats    polls.Counts     `json:"pollStats"`
	Timestamp    time.Time        `json:"timestamp"`
}

// UserCounter is implemented by *presence.Store.
type UserCounter interface {
	Counts(ctx context.Context) (store.UserCounts, error)
}

// MessageCounter is implemented by *chat.Channel.
type MessageCounter interface {
	Counts(ctx context.Context) (chat.Counts, error)
}

// PollCounter is implemented by *polls.Engine.
type PollCounter interface {
	Counts(ctx context.Context) (polls.Counts, error)
}

// Aggregator collects a Payload on demand and on a ticker.
type Aggregator struct {
	users    UserCounter
	messages MessageCounter
	polls    PollCounter
	timeout  time.Duration
	now      func() time.Time

	interval atomic.Int64 // time.Duration
	reset    chan time.Duration
}

// New returns an Aggregator that ticks every interval.
func New(users UserCounter, messages MessageCounter, polls PollCounter, interval time.Duration) *Aggregator {
	a := &Aggregator{
		users:    users,
		messages: messages,
		polls:    polls,
		timeout:  DefaultTimeout,
		now:      time.Now,
		reset:    make(chan time.Duration, 1),
	}
	a.interval.Store(int64(interval))
	return a
}

// Interval returns the current tick interval.
func (a *Aggregator) Interval() time.Duration {
	return time.Duration(a.interval.Load())
}

// SetInterval changes the tick interval of a running Run loop.
func (a *Aggregator) SetInterval(d time.Duration) {
	if d <= 0 || d == a.Interval() {
		return
	}
	a.interval.Store(int64(d))
	select {
	case a.reset <- d:
	default:
		// A pending reset is picked up first; Run re-reads the interval.
	}
}

// Collect runs the three count queries concurrently under the aggregator's
// timeout. Any failure fails the whole payload.
func (a *Aggregator) Collect(ctx context.Context) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var p Payload
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := a.users.Counts(gctx)
		p.UserStats = c
		return err
	})
	g.Go(func() error {
		c, err := a.messages.Counts(gctx)
		p.MessageStats = c
		return err
	})
	g.Go(func() error {
		c, err := a.polls.Counts(gctx)
		p.PollStats = c
		return err
	})
	if err := g.Wait(); err != nil {
		return Payload{}, fmt.Errorf("stats: collect: %w", err)
	}
	p.Timestamp = a.now().UTC()
	return p, nil
}

// Run collects a payload every interval and hands it to publish. A failed
// collection is logged and skipped; the next tick tries again. Run blocks
// until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, publish func(Payload)) {
	t := time.NewTicker(a.Interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.reset:
			t.Reset(a.Interval())
			slog.Info("stats: interval changed", "interval", a.Interval())
		case <-t.C:
			p, err := a.Collect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("stats: tick skipped", "err", err)
				continue
			}
			publish(p)
		}
	}
}
