// Package client is the bucket-level API: it builds signed requests for one
// bucket and runs them through the transport, either blocking or through
// the scheduler.
package client

import (
	"log/slog"
	"time"

	"github.com/BobDickinson/corona-s3/internal/auth"
	"github.com/BobDickinson/corona-s3/internal/config"
	"github.com/BobDickinson/corona-s3/internal/request"
	"github.com/BobDickinson/corona-s3/internal/scheduler"
	"github.com/BobDickinson/corona-s3/internal/transport"
)

// Result, Callback and Task are re-exported so callers only need this
// package for everyday use.
type (
	Result   = transport.Result
	Success  = transport.Success
	Failure  = transport.Failure
	Callback = transport.Callback
	Task     = transport.Task
)

// Client holds what every bucket shares: credentials, endpoint, proxy and
// the transport with its scheduler.
type Client struct {
	endpoint  string
	builder   *request.Builder
	transport *transport.Transport
	logger    *slog.Logger
}

type options struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
	clock  func() time.Time
	dialer *transport.Dialer
}

// Option configures a Client.
type Option func(*options)

// WithScheduler sets the scheduler asynchronous operations register with.
// By default each Client gets its own.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) {
		o.sched = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the clock used for the Date header.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithDialer replaces the dialer built from the transport configuration.
func WithDialer(d *transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// New creates a Client from cfg. Credentials are used as given; see
// config.ResolveCredentials to fill them from the environment first.
func New(cfg config.Config, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sched == nil {
		o.sched = scheduler.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.dialer == nil {
		o.dialer = &transport.Dialer{
			Network:     cfg.Transport.Network,
			StaticHosts: cfg.Transport.StaticHosts,
		}
	}

	return &Client{
		endpoint: cfg.Endpoint,
		builder: &request.Builder{
			Signer: auth.NewSigner(cfg.Credentials.AccessKey, cfg.Credentials.SecretKey),
			Clock:  o.clock,
			Proxy:  cfg.Proxy,
		},
		transport: transport.New(o.sched,
			transport.WithSlice(cfg.Transport.Slice()),
			transport.WithLogger(o.logger),
			transport.WithDialer(o.dialer),
		),
		logger: o.logger,
	}
}

// Scheduler returns the scheduler that drives asynchronous operations. The
// caller must Tick or Run it for callbacks to fire.
func (c *Client) Scheduler() *scheduler.Scheduler {
	return c.transport.Scheduler()
}

// Endpoint returns the service endpoint buckets are addressed under.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Bucket returns a handle for the named bucket, addressed as
// "<name>.<endpoint>".
func (c *Client) Bucket(name string) *Bucket {
	return &Bucket{
		client: c,
		name:   name,
		host:   name + "." + c.endpoint,
	}
}
