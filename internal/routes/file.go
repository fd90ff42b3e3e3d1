package routes

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// File is the on-disk catalog format holding routes and demo scenarios.
type File struct {
	DefaultRoute string         `yaml:"defaultRoute"`
	Routes       []RouteSpec    `yaml:"routes" validate:"dive"`
	Scenarios    []ScenarioSpec `yaml:"scenarios" validate:"dive"`
}

type RouteSpec struct {
	ID             string          `yaml:"id" validate:"required"`
	Name           string          `yaml:"name"`
	SpeedKmh       float64         `yaml:"speedKmh" validate:"gte=0"`
	UpdateInterval time.Duration   `yaml:"updateInterval" validate:"gte=0"`
	Waypoints      []core.Waypoint `yaml:"waypoints" validate:"min=2,dive"`
}

type ScenarioSpec struct {
	Key         string            `yaml:"key" validate:"required"`
	Name        string            `yaml:"name" validate:"required"`
	Description string            `yaml:"description"`
	Buses       []ScenarioBusSpec `yaml:"buses" validate:"min=1,dive"`
}

type ScenarioBusSpec struct {
	DriverID       string        `yaml:"driverId" validate:"required"`
	BusID          string        `yaml:"busId" validate:"required"`
	DriverEmail    string        `yaml:"driverEmail" validate:"omitempty,email"`
	RouteID        string        `yaml:"routeId" validate:"required"`
	SpeedKmh       float64       `yaml:"speedKmh" validate:"gt=0"`
	UpdateInterval time.Duration `yaml:"updateInterval" validate:"gt=0"`
	Delay          time.Duration `yaml:"delay" validate:"gte=0"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &f, nil
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Builtin returns the catalog document compiled into the binary.
func Builtin() *File {
	f, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return f
}

// CoreRoutes converts the route specs into domain routes.
func (f *File) CoreRoutes() []core.Route {
	out := make([]core.Route, 0, len(f.Routes))
	for _, r := range f.Routes {
		out = append(out, core.Route{
			ID:                    r.ID,
			Name:                  r.Name,
			Waypoints:             append([]core.Waypoint(nil), r.Waypoints...),
			DefaultSpeedKmh:       r.SpeedKmh,
			DefaultUpdateInterval: r.UpdateInterval,
		})
	}
	return out
}

// CoreScenarios converts the scenario specs into scenario definitions, in file order.
func (f *File) CoreScenarios() []core.ScenarioDefinition {
	out := make([]core.ScenarioDefinition, 0, len(f.Scenarios))
	for _, s := range f.Scenarios {
		def := core.ScenarioDefinition{
			Key:         s.Key,
			Name:        s.Name,
			Description: s.Description,
			Buses:       make([]core.ScenarioBus, 0, len(s.Buses)),
		}
		for _, b := range s.Buses {
			def.Buses = append(def.Buses, core.ScenarioBus{
				Config: core.SimulationConfig{
					RouteID:        b.RouteID,
					BusID:          b.BusID,
					DriverID:       b.DriverID,
					DriverEmail:    b.DriverEmail,
					SpeedKmh:       b.SpeedKmh,
					UpdateInterval: b.UpdateInterval,
				},
				StartDelay: b.Delay,
			})
		}
		out = append(out, def)
	}
	return out
}
