// Package tracking is the rider side of the broadcast store: filtered
// subscriptions and the liveness state machine for a tracked bus.
package tracking

import (
	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Client derives bus-level views from the store's full driver table.
type Client struct {
	store broadcast.Store
}

// NewClient creates a client reading from store.
func NewClient(store broadcast.Store) *Client {
	return &Client{store: store}
}

// FindBus returns the live record for busID in snap, or nil. When several
// drivers report the same bus, the newest record wins.
func FindBus(snap core.Snapshot, busID string) *core.LocationRecord {
	var found *core.LocationRecord
	for _, rec := range snap {
		if rec.BusID != busID || !rec.Live() {
			continue
		}
		if found == nil || rec.Timestamp > found.Timestamp {
			r := rec
			found = &r
		}
	}
	return found
}

// ActiveBuses re-indexes snap by bus id, keeping only live records.
func ActiveBuses(snap core.Snapshot) map[string]core.LocationRecord {
	out := make(map[string]core.LocationRecord, len(snap))
	for _, rec := range snap {
		if !rec.Live() {
			continue
		}
		if prev, ok := out[rec.BusID]; ok && prev.Timestamp >= rec.Timestamp {
			continue
		}
		out[rec.BusID] = rec
	}
	return out
}

// ActiveDrivers keeps only the live records of snap, keyed by driver id.
func ActiveDrivers(snap core.Snapshot) core.Snapshot {
	out := make(core.Snapshot, len(snap))
	for id, rec := range snap {
		if rec.Live() {
			out[id] = rec
		}
	}
	return out
}

// SubscribeToOneBus calls fn with the bus's live record on every table
// change, or with nil when the bus is missing, inactive or malformed.
func (c *Client) SubscribeToOneBus(busID string, fn func(*core.LocationRecord)) (func(), error) {
	return c.store.Subscribe(func(snap core.Snapshot) {
		fn(FindBus(snap, busID))
	})
}

// SubscribeToAllActiveBuses calls fn with every live bus keyed by bus id.
func (c *Client) SubscribeToAllActiveBuses(fn func(map[string]core.LocationRecord)) (func(), error) {
	return c.store.Subscribe(func(snap core.Snapshot) {
		fn(ActiveBuses(snap))
	})
}

// SubscribeToAllActiveDrivers calls fn with every live record keyed by driver id.
func (c *Client) SubscribeToAllActiveDrivers(fn func(core.Snapshot)) (func(), error) {
	return c.store.Subscribe(func(snap core.Snapshot) {
		fn(ActiveDrivers(snap))
	})
}
