package core

import "time"

// Waypoint is a named geographic point on a route (WGS84 degrees).
type Waypoint struct {
	Latitude  float64 `json:"latitude" yaml:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"lng" validate:"gte=-180,lte=180"`
	Name      string  `json:"name" yaml:"name"`
}

// Position is a bare latitude/longitude pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Position returns the waypoint's coordinates without its name.
func (w Waypoint) Position() Position {
	return Position{Latitude: w.Latitude, Longitude: w.Longitude}
}

// Route is an ordered sequence of waypoints a bus travels along.
// Routes with fewer than two waypoints do not produce meaningful motion.
type Route struct {
	ID                    string
	Name                  string
	Waypoints             []Waypoint
	DefaultSpeedKmh       float64
	DefaultUpdateInterval time.Duration
}
