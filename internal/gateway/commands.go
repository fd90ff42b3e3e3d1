package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/dispatcher"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Control commands routed through the dispatcher.
const (
	CmdScenarioStart = "scenario.start"
	CmdScenarioStop  = "scenario.stop"
	CmdDemoStopAll   = "demo.stopAll"
	CmdBusStart      = "bus.start"
)

var errMissingArg = errors.New("missing command argument")

// Demo is the operator-facing side of the scenario orchestrator.
type Demo interface {
	StartScenario(name string) error
	StopScenario(name string) error
	StopAllDemos()
	StartSingleBus(cfg core.SimulationConfig) error
	GetDemoStatus() core.DemoStatus
	GetAvailableScenarios() []core.ScenarioSummary
	GetScenarioInfo(name string) (core.ScenarioInfo, error)
}

// BusRequest is the body of an ad-hoc bus start.
type BusRequest struct {
	RouteID          string  `json:"routeId"`
	BusID            string  `json:"busId"`
	DriverID         string  `json:"driverId"`
	DriverEmail      string  `json:"driverEmail,omitempty"`
	SpeedKmh         float64 `json:"speedKmh"`
	UpdateIntervalMs int64   `json:"updateIntervalMs"`
}

// Config converts the request into a simulation config.
func (r BusRequest) Config() core.SimulationConfig {
	return core.SimulationConfig{
		RouteID:        r.RouteID,
		BusID:          r.BusID,
		DriverID:       r.DriverID,
		DriverEmail:    r.DriverEmail,
		SpeedKmh:       r.SpeedKmh,
		UpdateInterval: time.Duration(r.UpdateIntervalMs) * time.Millisecond,
	}
}

// RegisterCommands wires the demo control commands into d.
func RegisterCommands(d *dispatcher.Dispatcher, demo Demo) {
	d.Register(CmdScenarioStart, func(e dispatcher.Event) (any, error) {
		name, err := firstArg(e)
		if err != nil {
			return nil, err
		}
		return name, demo.StartScenario(name)
	}, dispatcher.Logged())

	d.Register(CmdScenarioStop, func(e dispatcher.Event) (any, error) {
		name, err := firstArg(e)
		if err != nil {
			return nil, err
		}
		return name, demo.StopScenario(name)
	}, dispatcher.Logged())

	d.Register(CmdDemoStopAll, func(e dispatcher.Event) (any, error) {
		demo.StopAllDemos()
		return nil, nil
	}, dispatcher.Logged())

	d.Register(CmdBusStart, func(e dispatcher.Event) (any, error) {
		raw, err := firstArg(e)
		if err != nil {
			return nil, err
		}
		var req BusRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
		}
		cfg := req.Config()
		return cfg.Key().String(), demo.StartSingleBus(cfg)
	}, dispatcher.Logged())
}

func firstArg(e dispatcher.Event) (string, error) {
	if len(e.Args) == 0 || e.Args[0] == "" {
		return "", fmt.Errorf("%s: %w", e.Command, errMissingArg)
	}
	return e.Args[0], nil
}
