// Package dispatcher routes named control commands, such as starting a demo
// scenario, to their handlers. Handlers run inline or behind a bounded queue.
package dispatcher

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownCommand is returned for a command nobody registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a non-blocking buffered command is
	// rejected.
	ErrQueueFull = errors.New("queue full")
)

// Queued is the result of a command accepted into a buffered queue.
const Queued = "queued"

// Event is a control command, e.g. "scenario.start" with the scenario name as
// its first arg.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
	// Source names the caller, e.g. the remote address of an HTTP request.
	Source string
}

type HandlerFunc func(Event) (any, error)

// Logger is the key/value logger used for Logged handlers.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type Option func(*options)

type options struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered hands events to a single worker through a queue of the given
// size. Dispatch returns Queued without waiting for the handler.
func Buffered(size int) Option {
	return func(o *options) { o.bufferSize = size }
}

// Blocking makes Dispatch wait for room in a full queue instead of failing
// with ErrQueueFull.
func Blocking() Option {
	return func(o *options) { o.blocking = true }
}

// Logged logs each handled event at debug level, and failures at error level.
func Logged() Option {
	return func(o *options) { o.logged = true }
}

type route struct {
	handle HandlerFunc
	queue  chan Event // nil for inline handlers
}

type Dispatcher struct {
	logger  Logger
	metrics *metrics

	mu     sync.RWMutex
	routes map[string]route
}

// New creates a Dispatcher. Metrics go to the global OTel meter provider.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger: logger,
		routes: make(map[string]route),
	}
	m, err := newMetrics(d.queueDepths)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	return d, nil
}

// Register installs h for command, replacing any previous handler.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	run := d.instrument(command, h, o.logged)
	r := route{handle: run}
	if o.bufferSize > 0 {
		r.queue = make(chan Event, o.bufferSize)
		go func(q <-chan Event) {
			for e := range q {
				_, _ = run(e)
			}
		}(r.queue)
		r.handle = d.enqueue(command, r.queue, o)
	}

	d.mu.Lock()
	d.routes[command] = r
	d.mu.Unlock()
}

// Dispatch runs the handler registered for e.Command.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	r, ok := d.routes[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	return r.handle(e)
}

func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[command]
	return ok
}

// Commands lists the registered command names in sorted order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for cmd := range d.routes {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) queueDepths(observe func(command string, depth int)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cmd, r := range d.routes {
		if r.queue != nil {
			observe(cmd, len(r.queue))
		}
	}
}

func (d *Dispatcher) enqueue(command string, q chan<- Event, o options) HandlerFunc {
	if o.blocking {
		return func(e Event) (any, error) {
			q <- e
			return Queued, nil
		}
	}
	return func(e Event) (any, error) {
		select {
		case q <- e:
			return Queued, nil
		default:
			d.metrics.drop(command)
			if o.logged {
				d.logger.Error("event dropped", "command", command, "source", e.Source)
			}
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
	}
}

// instrument counts every run of h, and logs it when logged is set.
func (d *Dispatcher) instrument(command string, h HandlerFunc, logged bool) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		if logged {
			d.logger.Debug("handling event", "command", command, "args", len(e.Args), "source", e.Source)
		}

		result, err := h(e)
		d.metrics.handled(command, err)

		if logged {
			if err != nil {
				d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
			} else {
				d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
			}
		}
		return result, err
	}
}
