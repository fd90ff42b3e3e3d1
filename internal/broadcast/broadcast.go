// Package broadcast holds the realtime location table shared by publishers
// (simulated or real drivers) and subscribers (riders, dashboards, recorders).
package broadcast

import (
	"context"
	"errors"

	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("broadcast store closed")

// Store is a realtime key/value table of location records keyed by driver id.
//
// Subscribe delivers the whole table, never a diff. The callback runs once
// with the current table right after subscribing and again after every change.
// An empty table is delivered as a nil Snapshot. Callbacks for one subscriber
// run sequentially and never under the store's internal lock.
type Store interface {
	Write(ctx context.Context, driverID string, rec core.LocationRecord) error
	Remove(ctx context.Context, driverID string) error
	Subscribe(fn func(core.Snapshot)) (unsubscribe func(), err error)
	Close() error
}
