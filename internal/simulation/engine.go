// Package simulation moves simulated buses along their routes and publishes
// their positions on a fixed cadence.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/geo"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrDisposed is returned by Start after Dispose.
var ErrDisposed = errors.New("simulation engine disposed")

// Publisher writes and retracts driver location records.
type Publisher interface {
	Publish(ctx context.Context, rec core.LocationRecord) error
	Retract(ctx context.Context, driverID string) error
}

// RouteResolver resolves route ids. Unknown ids resolve to a fallback route
// and report false.
type RouteResolver interface {
	Lookup(id string) (core.Route, bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving tickers and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine owns every running simulation. Each simulation has its own ticker
// goroutine, so ticks for one key never overlap. Lock order is e.mu, then run.mu.
// Retractions go to the publisher after e.mu is released.
type Engine struct {
	publisher Publisher
	routes    RouteResolver
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics

	mu       sync.Mutex
	runs     map[core.SimulationKey]*run
	disposed bool
}

type run struct {
	key     core.SimulationKey
	config  core.SimulationConfig
	route   core.Route
	totalMs float64
	ticker  clockwork.Ticker
	done    chan struct{}

	mu      sync.Mutex
	state   core.SimulationState
	stopped bool
}

// NewEngine creates an engine publishing through publisher.
func NewEngine(publisher Publisher, routes RouteResolver, opts ...Option) (*Engine, error) {
	e := &Engine{
		publisher: publisher,
		routes:    routes,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		runs:      make(map[core.SimulationKey]*run),
	}
	for _, opt := range opts {
		opt(e)
	}

	m, err := newMetrics(e.Count)
	if err != nil {
		return nil, err
	}
	e.metrics = m
	return e, nil
}

// Start begins a simulation for cfg, replacing any run under the same key.
// An unknown route id falls back to the default route.
func (e *Engine) Start(cfg core.SimulationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}

	key := cfg.Key()
	var replaced []stoppedRun
	if existing, ok := e.runs[key]; ok {
		replaced = append(replaced, e.detachLocked(existing, "restarted"))
	}

	route, ok := e.routes.Lookup(cfg.RouteID)
	if !ok {
		e.logger.Warn("Unknown route, using default", "routeId", cfg.RouteID, "fallback", route.ID, "busId", cfg.BusID)
	}

	r := &run{
		key:     key,
		config:  cfg,
		route:   route,
		totalMs: geo.TraversalTimeMs(geo.TotalDistance(route.Waypoints), cfg.SpeedKmh),
		ticker:  e.clock.NewTicker(cfg.UpdateInterval),
		done:    make(chan struct{}),
		state: core.SimulationState{
			IsRunning: true,
			StartTime: e.clock.Now(),
		},
	}
	e.runs[key] = r
	go e.loop(r)
	e.mu.Unlock()

	// the new run writes its first position one interval from now
	e.retractAll(replaced)

	e.logger.Info("Simulation started",
		"routeId", route.ID,
		"busId", cfg.BusID,
		"driverId", cfg.DriverID,
		"speedKmh", cfg.SpeedKmh,
		"traversal", time.Duration(r.totalMs*float64(time.Millisecond)).Round(time.Second),
	)
	return nil
}

func (e *Engine) loop(r *run) {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.Chan():
			e.tick(r)
		}
	}
}

// tick advances r to the current clock time and writes its position. The
// run stops itself after writing the final position.
func (e *Engine) tick(r *run) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}

	elapsedMs := float64(e.clock.Since(r.state.StartTime)) / float64(time.Millisecond)
	progress := 1.0
	if r.totalMs > 0 {
		progress = min(elapsedMs/r.totalMs, 1)
	}
	if progress < 0 {
		progress = 0
	}

	pos, idx := geo.PositionAtProgress(r.route.Waypoints, progress)
	rec := core.LocationRecord{
		DriverID:    r.config.DriverID,
		BusID:       r.config.BusID,
		DriverEmail: r.config.DriverEmail,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Timestamp:   e.clock.Now().UnixMilli(),
		IsActive:    true,
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("route", r.route.ID))
	e.metrics.ticks.Add(ctx, 1, attrs)
	if err := e.publisher.Publish(ctx, rec); err != nil {
		e.metrics.publishErrors.Add(ctx, 1, attrs)
		e.logger.Warn("Failed to publish simulated location", "busId", r.config.BusID, "driverId", r.config.DriverID, "error", err)
	}

	r.state.Progress = progress
	r.state.CurrentWaypointIndex = idx
	finished := progress >= 1
	r.mu.Unlock()

	if finished {
		e.complete(r)
	}
}

func (e *Engine) complete(r *run) {
	e.mu.Lock()
	if e.runs[r.key] != r {
		e.mu.Unlock()
		return
	}
	done := e.detachLocked(r, "completed")
	e.mu.Unlock()

	e.retractAll([]stoppedRun{done})
}

// stoppedRun is a run removed from the engine whose record still has to be
// retracted.
type stoppedRun struct {
	key    core.SimulationKey
	reason string
}

// detachLocked removes r from the engine and cancels its ticker. It waits for
// an in-flight tick of r to finish, so nothing of r is written afterwards.
// The caller retracts the record once e.mu is released.
func (e *Engine) detachLocked(r *run, reason string) stoppedRun {
	delete(e.runs, r.key)
	r.ticker.Stop()
	close(r.done)

	r.mu.Lock()
	r.stopped = true
	r.state.IsRunning = false
	r.mu.Unlock()
	return stoppedRun{key: r.key, reason: reason}
}

func (e *Engine) retractAll(runs []stoppedRun) {
	for _, s := range runs {
		e.retract(s.key)
		e.logger.Info("Simulation stopped", "busId", s.key.BusID, "driverId", s.key.DriverID, "reason", s.reason)
	}
}

func (e *Engine) retract(key core.SimulationKey) {
	ctx := context.Background()
	if err := e.publisher.Retract(ctx, key.DriverID); err != nil {
		e.metrics.publishErrors.Add(ctx, 1)
		e.logger.Warn("Failed to retract location", "driverId", key.DriverID, "error", err)
	}
}

// Stop ends the simulation for (driverID, busID) and retracts the driver's
// record. Stopping an unknown or finished key still retracts the record and
// never fails. The retraction runs without holding the engine lock.
func (e *Engine) Stop(driverID, busID string) {
	key := core.SimulationKey{DriverID: driverID, BusID: busID}

	e.mu.Lock()
	r, ok := e.runs[key]
	if !ok {
		e.mu.Unlock()
		e.retract(key)
		return
	}
	done := e.detachLocked(r, "stopped")
	e.mu.Unlock()

	e.retractAll([]stoppedRun{done})
}

// GetState returns a copy of the state of a running simulation.
func (e *Engine) GetState(driverID, busID string) (core.SimulationState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[core.SimulationKey{DriverID: driverID, BusID: busID}]
	if !ok {
		return core.SimulationState{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, true
}

// IsRunning reports whether a simulation runs under (driverID, busID).
func (e *Engine) IsRunning(driverID, busID string) bool {
	_, ok := e.GetState(driverID, busID)
	return ok
}

// ListActive returns every running simulation ordered by key.
func (e *Engine) ListActive() []core.ActiveSimulation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.ActiveSimulation, 0, len(e.runs))
	for _, r := range e.runs {
		r.mu.Lock()
		out = append(out, core.ActiveSimulation{
			Key:            r.key,
			Config:         r.config,
			State:          r.state,
			TotalWaypoints: len(r.route.Waypoints),
		})
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Count returns the number of running simulations.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Dispose stops every simulation and rejects later starts.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	stopped := make([]stoppedRun, 0, len(e.runs))
	for _, r := range e.runs {
		stopped = append(stopped, e.detachLocked(r, "disposed"))
	}
	e.mu.Unlock()

	e.retractAll(stopped)
	if err := e.metrics.registration.Unregister(); err != nil {
		return fmt.Errorf("unregistering metrics callback: %w", err)
	}
	return nil
}
