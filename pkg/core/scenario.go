package core

import "time"

// ScenarioBus is one bus of a scenario and its delay relative to scenario start.
type ScenarioBus struct {
	Config     SimulationConfig
	StartDelay time.Duration
}

// ScenarioDefinition is a named, ordered bundle of simulated buses.
type ScenarioDefinition struct {
	Key         string
	Name        string
	Description string
	Buses       []ScenarioBus
}

// ScenarioSummary is the catalog entry shown to operators.
type ScenarioSummary struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BusCount    int    `json:"busCount"`
}

// ScenarioBusInfo describes one bus of a scenario.
type ScenarioBusInfo struct {
	BusID    string  `json:"busId"`
	RouteID  string  `json:"routeId"`
	SpeedKmh float64 `json:"speedKmh"`
	DelayMs  int64   `json:"delayMs"`
}

// ScenarioInfo is the detailed view of one scenario.
type ScenarioInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	BusCount    int               `json:"busCount"`
	Buses       []ScenarioBusInfo `json:"buses"`
}

// BusStatus is the status line of one running simulation.
type BusStatus struct {
	BusID              string `json:"busId"`
	DriverID           string `json:"driverId"`
	ProgressPercent    int    `json:"progressPercent"`
	// WaypointIndex is the 0-based index of the waypoint the bus last passed,
	// i.e. the start of its current segment. It ranges over [0, TotalWaypoints-2].
	WaypointIndex      int    `json:"waypointIndex"`
	TotalWaypoints     int    `json:"totalWaypoints"`
	RunningTimeSeconds int64  `json:"runningTimeSeconds"`
}

// DemoStatus is a read-only snapshot of every running simulation.
type DemoStatus struct {
	ActiveBuses     int         `json:"activeBuses"`
	Buses           []BusStatus `json:"buses"`
	ActiveScenarios []string    `json:"activeScenarios"`
}
