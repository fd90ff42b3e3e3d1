package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a simulation config cannot drive a run.
var ErrInvalidConfig = errors.New("invalid simulation config")

// SimulationKey identifies one simulated bus. At most one simulation runs per key.
type SimulationKey struct {
	DriverID string
	BusID    string
}

func (k SimulationKey) String() string {
	return k.DriverID + "-" + k.BusID
}

// SimulationConfig holds the parameters for one simulated bus.
type SimulationConfig struct {
	RouteID        string        `json:"routeId"`
	BusID          string        `json:"busId"`
	DriverID       string        `json:"driverId"`
	DriverEmail    string        `json:"driverEmail,omitempty"`
	SpeedKmh       float64       `json:"speedKmh"`
	UpdateInterval time.Duration `json:"updateInterval"`
}

// Key returns the (driver, bus) pair this config runs under.
func (c SimulationConfig) Key() SimulationKey {
	return SimulationKey{DriverID: c.DriverID, BusID: c.BusID}
}

// Validate checks the fields a run cannot do without. The route id is not
// checked here: unknown routes fall back to the catalog default.
func (c SimulationConfig) Validate() error {
	switch {
	case c.DriverID == "":
		return fmt.Errorf("%w: driver id is empty", ErrInvalidConfig)
	case c.BusID == "":
		return fmt.Errorf("%w: bus id is empty", ErrInvalidConfig)
	case !(c.SpeedKmh > 0):
		return fmt.Errorf("%w: speed must be positive, got %v", ErrInvalidConfig, c.SpeedKmh)
	case c.UpdateInterval <= 0:
		return fmt.Errorf("%w: update interval must be positive, got %s", ErrInvalidConfig, c.UpdateInterval)
	}
	return nil
}

// SimulationState is the mutable progress of one run.
type SimulationState struct {
	IsRunning            bool      `json:"isRunning"`
	CurrentWaypointIndex int       `json:"currentWaypointIndex"`
	Progress             float64   `json:"progress"`
	StartTime            time.Time `json:"startTime"`
}

// ActiveSimulation pairs a running config with a copy of its state.
type ActiveSimulation struct {
	Key            SimulationKey
	Config         SimulationConfig
	State          SimulationState
	TotalWaypoints int
}
