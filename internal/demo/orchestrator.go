// Package demo runs named scenarios of simulated buses with staggered starts.
package demo

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jonboulle/clockwork"
)

// ErrUnknownScenario is returned for scenario names that are not registered.
var ErrUnknownScenario = errors.New("unknown scenario")

// Engine is the simulation engine the orchestrator drives.
type Engine interface {
	Start(cfg core.SimulationConfig) error
	Stop(driverID, busID string)
	ListActive() []core.ActiveSimulation
	Dispose() error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for delayed starts and running times.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithScenarios registers scenarios, replacing ones with the same key.
func WithScenarios(defs ...core.ScenarioDefinition) Option {
	return func(o *Orchestrator) {
		for _, d := range defs {
			o.register(d)
		}
	}
}

// pendingStart is a delayed bus start. cancel is closed to abandon it.
type pendingStart struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// Orchestrator starts and stops scenarios on top of an Engine.
type Orchestrator struct {
	engine Engine
	clock  clockwork.Clock
	logger *slog.Logger

	scenarios map[string]core.ScenarioDefinition
	order     []string

	mu      sync.Mutex
	pending map[pendingKey]*pendingStart
	active  map[string]struct{}
}

// New creates an orchestrator over engine.
func New(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		scenarios: make(map[string]core.ScenarioDefinition),
		pending:   make(map[pendingKey]*pendingStart),
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) register(d core.ScenarioDefinition) {
	if _, ok := o.scenarios[d.Key]; !ok {
		o.order = append(o.order, d.Key)
	}
	o.scenarios[d.Key] = d
}

type pendingKey struct {
	scenario string
	busID    string
}

// StartScenario starts every bus of the scenario, delayed ones on timers.
// The scenario counts as active as soon as it is scheduled, even while all of
// its buses are still waiting for their delay.
func (o *Orchestrator) StartScenario(name string) error {
	def, ok := o.scenarios[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.logger.Info("Starting scenario", "scenario", name, "title", def.Name, "buses", len(def.Buses))
	for _, bus := range def.Buses {
		key := pendingKey{scenario: name, busID: bus.Config.BusID}
		o.cancelPendingLocked(key)

		if bus.StartDelay <= 0 {
			o.startBusLocked(bus.Config)
			continue
		}

		p := &pendingStart{
			timer:  o.clock.NewTimer(bus.StartDelay),
			cancel: make(chan struct{}),
		}
		o.pending[key] = p
		go o.awaitStart(key, p, bus.Config)
	}
	o.active[name] = struct{}{}
	return nil
}

func (o *Orchestrator) awaitStart(key pendingKey, p *pendingStart, cfg core.SimulationConfig) {
	select {
	case <-p.cancel:
		return
	case <-p.timer.Chan():
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[key] != p {
		return
	}
	delete(o.pending, key)
	o.startBusLocked(cfg)
}

func (o *Orchestrator) startBusLocked(cfg core.SimulationConfig) {
	if err := o.engine.Start(cfg); err != nil {
		o.logger.Error("Failed to start bus", "busId", cfg.BusID, "driverId", cfg.DriverID, "error", err)
		return
	}
	o.logger.Info("Started bus", "busId", cfg.BusID, "driverEmail", cfg.DriverEmail, "routeId", cfg.RouteID)
}

func (o *Orchestrator) cancelPendingLocked(key pendingKey) {
	p, ok := o.pending[key]
	if !ok {
		return
	}
	p.timer.Stop()
	close(p.cancel)
	delete(o.pending, key)
}

// StartSingleBus starts one ad-hoc bus outside any scenario.
func (o *Orchestrator) StartSingleBus(cfg core.SimulationConfig) error {
	if err := o.engine.Start(cfg); err != nil {
		return err
	}
	o.logger.Info("Started bus", "busId", cfg.BusID, "driverEmail", cfg.DriverEmail, "routeId", cfg.RouteID)
	return nil
}

// StopScenario cancels pending starts and stops every bus of the scenario.
func (o *Orchestrator) StopScenario(name string) error {
	def, ok := o.scenarios[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, bus := range def.Buses {
		o.cancelPendingLocked(pendingKey{scenario: name, busID: bus.Config.BusID})
		o.engine.Stop(bus.Config.DriverID, bus.Config.BusID)
	}
	delete(o.active, name)
	o.logger.Info("Scenario stopped", "scenario", name)
	return nil
}

// StopAllDemos cancels every pending start and stops every running bus,
// including ad-hoc ones. Calling it with nothing running is a no-op.
func (o *Orchestrator) StopAllDemos() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key := range o.pending {
		o.cancelPendingLocked(key)
	}
	for _, sim := range o.engine.ListActive() {
		o.engine.Stop(sim.Key.DriverID, sim.Key.BusID)
	}
	clear(o.active)
	o.logger.Info("All demos stopped")
}

// GetDemoStatus reports every running bus and every active scenario.
func (o *Orchestrator) GetDemoStatus() core.DemoStatus {
	active := o.engine.ListActive()
	now := o.clock.Now()

	status := core.DemoStatus{
		ActiveBuses:     len(active),
		Buses:           make([]core.BusStatus, 0, len(active)),
		ActiveScenarios: o.ActiveScenarios(),
	}
	for _, sim := range active {
		status.Buses = append(status.Buses, core.BusStatus{
			BusID:              sim.Key.BusID,
			DriverID:           sim.Key.DriverID,
			ProgressPercent:    int(math.Round(sim.State.Progress * 100)),
			WaypointIndex:      sim.State.CurrentWaypointIndex,
			TotalWaypoints:     sim.TotalWaypoints,
			RunningTimeSeconds: int64(math.Round(now.Sub(sim.State.StartTime).Seconds())),
		})
	}
	return status
}

// ActiveScenarios lists the scenarios marked active, sorted.
func (o *Orchestrator) ActiveScenarios() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.active))
	for name := range o.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PendingStarts returns the number of delayed starts not yet fired.
func (o *Orchestrator) PendingStarts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// GetAvailableScenarios lists the registered scenarios in registration order.
func (o *Orchestrator) GetAvailableScenarios() []core.ScenarioSummary {
	out := make([]core.ScenarioSummary, 0, len(o.order))
	for _, key := range o.order {
		d := o.scenarios[key]
		out = append(out, core.ScenarioSummary{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			BusCount:    len(d.Buses),
		})
	}
	return out
}

// GetScenarioInfo describes one scenario and its buses.
func (o *Orchestrator) GetScenarioInfo(name string) (core.ScenarioInfo, error) {
	d, ok := o.scenarios[name]
	if !ok {
		return core.ScenarioInfo{}, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	info := core.ScenarioInfo{
		Name:        d.Name,
		Description: d.Description,
		BusCount:    len(d.Buses),
		Buses:       make([]core.ScenarioBusInfo, 0, len(d.Buses)),
	}
	for _, b := range d.Buses {
		info.Buses = append(info.Buses, core.ScenarioBusInfo{
			BusID:    b.Config.BusID,
			RouteID:  b.Config.RouteID,
			SpeedKmh: b.Config.SpeedKmh,
			DelayMs:  b.StartDelay.Milliseconds(),
		})
	}
	return info, nil
}

// HasScenario reports whether name is registered.
func (o *Orchestrator) HasScenario(name string) bool {
	_, ok := o.scenarios[name]
	return ok
}

// Dispose stops everything and disposes the engine.
func (o *Orchestrator) Dispose() error {
	o.StopAllDemos()
	return o.engine.Dispose()
}
