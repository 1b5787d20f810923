// Package transport executes signed requests over plain HTTP/1.1, one
// connection per request. The same step machine serves both modes: Do loops
// it to completion on the calling goroutine, Start hangs it off a Scheduler
// and advances it one bounded slice per tick.
package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/BobDickinson/corona-s3/internal/request"
	"github.com/BobDickinson/corona-s3/internal/scheduler"
)

// DefaultSlice bounds the socket work done in one step.
const DefaultSlice = 100 * time.Millisecond

// Transport runs exchanges. The zero value is not usable; use New.
type Transport struct {
	dialer *Dialer
	sched  *scheduler.Scheduler
	slice  time.Duration
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithSlice sets the per-step work bound.
func WithSlice(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.slice = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithDialer replaces the default direct dialer.
func WithDialer(d *Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// New creates a Transport whose asynchronous exchanges run on sched.
func New(sched *scheduler.Scheduler, opts ...Option) *Transport {
	t := &Transport{
		dialer: &Dialer{},
		sched:  sched,
		slice:  DefaultSlice,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Scheduler returns the scheduler asynchronous exchanges are registered with.
func (t *Transport) Scheduler() *scheduler.Scheduler {
	return t.sched
}

// Do performs req and blocks until a response or a failure. There is no
// implicit deadline; cancel ctx to give up, which yields a Failure.
func (t *Transport) Do(ctx context.Context, req *request.Request) Result {
	x := newExchange(ctx, t.dialer, req)
	defer x.discard()

	for {
		if err := ctx.Err(); err != nil {
			res, _ := x.fail("dial", err)
			t.log(res)
			return res
		}
		if res, done := x.step(t.slice); done {
			t.log(res)
			return res
		}
	}
}

// Start performs req asynchronously. Each Scheduler tick advances it by one
// slice; cb runs exactly once, inside the tick that completes it, unless the
// returned Task is cancelled first. There is no overall deadline.
func (t *Transport) Start(req *request.Request, cb Callback) *Task {
	x := newExchange(context.Background(), t.dialer, req)
	advance := func() (Result, bool) {
		res, done := x.step(t.slice)
		if done {
			t.log(res)
		}
		return res, done
	}
	return newTask(t.sched, advance, x.discard, cb).start()
}

// Deliver schedules res for delivery to cb on the next tick, as if it came
// from an exchange. It is used for results decided before any network
// activity, so every asynchronous operation reports through the scheduler.
func (t *Transport) Deliver(res Result, cb Callback) *Task {
	advance := func() (Result, bool) { return res, true }
	return newTask(t.sched, advance, nil, cb).start()
}

func (t *Transport) log(res Result) {
	switch r := res.(type) {
	case *Success:
		t.logger.Debug("exchange complete",
			"request", r.Req.String(),
			"status", r.Response.StatusCode,
			"bytes", len(r.Response.Body),
		)
	case *Failure:
		t.logger.Warn("exchange failed",
			"request", r.Req.String(),
			"error", r.Message,
		)
	}
}
