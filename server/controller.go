// Package server implements the interception controller: it receives engine
// notifications, keeps the bounded connection, traffic and status logs,
// aggregates statistics, holds at most one intercepted message for an
// operator decision, and exposes all of it over an HTTP API.
//
// Every piece of mutable state except the logs themselves is owned by a
// single dispatch goroutine (Controller.Run). Engine notifications and
// operator actions are queued to it in arrival order.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/run"
)

var (
	// ErrNoPendingIntercept is returned by intercept actions when nothing is held.
	ErrNoPendingIntercept = errors.New("no pending intercept")

	// ErrInvalidEdit is returned by Forward when the edited text cannot be
	// decoded in the active view mode. The intercept stays pending.
	ErrInvalidEdit = errors.New("invalid intercept edit")

	// ErrInvalidConfig is returned when operator-supplied configuration is malformed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed is returned for actions submitted after the controller stopped.
	ErrClosed = errors.New("controller closed")
)

// DefaultStatsInterval is how often engine statistics are polled.
const DefaultStatsInterval = 100 * time.Millisecond

// TrafficMirror receives a copy of every traffic log entry. Mirror is called
// on the dispatch goroutine and must not block.
type TrafficMirror interface {
	Mirror(LogEvent)
}

// Options configures a Controller.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics

	// LogCapacity bounds each log. Defaults to DefaultLogCapacity.
	LogCapacity int

	// StatsInterval is the engine polling period. Defaults to
	// DefaultStatsInterval; negative disables polling.
	StatsInterval time.Duration

	// InterceptTimeout auto-forwards a pending intercept older than this.
	// Zero waits for the operator indefinitely.
	InterceptTimeout time.Duration

	// Intercept and View are the initial intercept settings.
	Intercept engine.InterceptConfig
	View      codec.ViewMode

	Mirror   TrafficMirror
	Uploader Uploader

	// LocalInterfaces lists bind addresses when the engine cannot.
	// Defaults to LocalInterfaces.
	LocalInterfaces func() ([]string, error)
}

// Controller mediates between an engine and its operators.
type Controller struct {
	log     *slog.Logger
	metrics *Metrics
	q       *queue
	opts    Options

	connections *EventLog[ConnectionEvent]
	traffic     *EventLog[LogEvent]
	messages    *EventLog[string]
	feed        *EventLog[FeedEvent]

	// Owned by the dispatch goroutine.
	eng         engine.Engine
	engineCfg   engine.Config
	pending     *PendingIntercept
	intercept   engine.InterceptConfig
	view        codec.ViewMode
	stats       Statistics
	directional bool // engine reports per-direction byte counts
	open        map[int]ConnectionEvent
}

// New creates a controller with no engine attached. Call Attach to load one
// and Run to start processing.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatsInterval == 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.LocalInterfaces == nil {
		opts.LocalInterfaces = LocalInterfaces
	}
	return &Controller{
		log:         opts.Logger,
		metrics:     opts.Metrics,
		q:           newQueue(),
		opts:        opts,
		connections: NewEventLog(opts.LogCapacity, stampConnection),
		traffic:     NewEventLog(opts.LogCapacity, stampTraffic),
		messages:    NewEventLog[string](opts.LogCapacity, nil),
		feed:        NewEventLog(opts.LogCapacity, stampFeed),
		intercept:   opts.Intercept,
		view:        opts.View,
		open:        make(map[int]ConnectionEvent),
	}
}

// Attach loads eng into the controller. The engine's stored configuration is
// read and the controller's intercept settings are pushed to it once the
// dispatch loop picks the request up.
func (c *Controller) Attach(eng engine.Engine) error {
	return c.q.push(func() {
		c.eng = eng
		if eng == nil {
			return
		}
		c.loadEngineConfig()
		c.pushInterceptConfig()
	})
}

// Runner returns the dispatch loop as a run.Runner.
func (c *Controller) Runner() run.Runner {
	return run.Func(c.Run)
}

// Run processes queued work until ctx is cancelled, then shuts down: queued
// work is finished, a pending intercept is forwarded and a running engine is
// stopped.
func (c *Controller) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if c.opts.StatsInterval > 0 {
		t := time.NewTicker(c.opts.StatsInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-c.q.wake:
			c.drain()
		case <-tick:
			c.pollStats()
			c.expireIntercept()
		}
	}
}

func (c *Controller) shutdown() error {
	c.q.close()
	c.drain()

	var result *multierror.Error
	if c.pending != nil {
		if err := c.resolve(engine.Forward, nil); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.eng != nil && c.eng.Running() {
		if err := c.eng.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop engine: %w", err))
		} else {
			c.publish(FeedEvent{Type: FeedProxyStopped, Message: "[SYSTEM] Proxy stopped"})
		}
	}
	return result.ErrorOrNil()
}

func (c *Controller) drain() {
	for _, fn := range c.q.drain() {
		c.exec(fn)
	}
	c.metrics.setQueueDepth(c.q.len())
}

// exec runs one queued item. A panic is logged and reported as a status
// line; the loop keeps going.
func (c *Controller) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("dispatch panic", "panic", r)
			c.status(fmt.Sprintf("[ERROR] Internal error while handling event: %v", r))
		}
	}()
	fn()
}

// do runs fn on the dispatch goroutine and returns its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	err := c.q.push(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("internal error: %v", r)
				panic(r)
			}
		}()
		done <- fn()
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// status appends a line to the status log and mirrors it to slog.
func (c *Controller) status(msg string) {
	c.log.Info(msg)
	c.messages.Append(msg)
	c.publish(FeedEvent{Type: FeedStatus, Message: msg})
}

func (c *Controller) publish(e FeedEvent) {
	c.feed.Append(e)
}

// Feed returns the status feed log.
func (c *Controller) Feed() *EventLog[FeedEvent] { return c.feed }

// Connections returns a snapshot of the connection log.
func (c *Controller) Connections() []ConnectionEvent { return c.connections.Entries() }

// Traffic returns a snapshot of the traffic history.
func (c *Controller) Traffic() []LogEvent { return c.traffic.Entries() }

// StatusMessages returns the retained status lines, oldest first.
func (c *Controller) StatusMessages() []string { return c.messages.Entries() }

// note queues a status line from outside the dispatch goroutine.
func (c *Controller) note(msg string) {
	if err := c.q.push(func() { c.status(msg) }); err != nil {
		c.log.Info(msg)
	}
}
