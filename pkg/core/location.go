package core

import (
	"math"
	"time"
)

// LocationRecord is the unit written to the broadcast store, keyed by driver id.
// IsActive=false and an absent record both mean the driver is not sharing.
type LocationRecord struct {
	DriverID    string  `json:"driverId"`
	BusID       string  `json:"busId"`
	DriverEmail string  `json:"driverEmail,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   int64   `json:"timestamp"` // epoch milliseconds
	IsActive    bool    `json:"isActive"`
}

// Valid reports whether the coordinates are usable finite numbers.
func (r LocationRecord) Valid() bool {
	return isFinite(r.Latitude) && isFinite(r.Longitude)
}

// Live reports whether the record is active and carries a usable position.
func (r LocationRecord) Live() bool {
	return r.IsActive && r.Valid()
}

// Time returns the record timestamp.
func (r LocationRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Position returns the record's coordinates.
func (r LocationRecord) Position() Position {
	return Position{Latitude: r.Latitude, Longitude: r.Longitude}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Snapshot is the full driver table of the broadcast store, keyed by driver id.
// A nil Snapshot means the table is empty.
type Snapshot map[string]LocationRecord

// Clone returns an independent copy; nil stays nil.
func (s Snapshot) Clone() Snapshot {
	if len(s) == 0 {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
