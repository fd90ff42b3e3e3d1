// Package memory is an in-process broadcast store.
package memory

import (
	"context"
	"sync"

	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Store keeps the driver table in a map.
type Store struct {
	mu      sync.Mutex
	records map[string]core.LocationRecord
	fanout  *broadcast.Fanout
	closed  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]core.LocationRecord),
		fanout:  broadcast.NewFanout(),
	}
}

func (s *Store) snapshotLocked() core.Snapshot {
	return core.Snapshot(s.records).Clone()
}

// Write sets the record for driverID and notifies subscribers.
func (s *Store) Write(_ context.Context, driverID string, rec core.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broadcast.ErrStoreClosed
	}
	s.records[driverID] = rec
	s.fanout.Publish(s.snapshotLocked())
	return nil
}

// Remove deletes the record for driverID. Subscribers are only notified when
// a record was actually removed.
func (s *Store) Remove(_ context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broadcast.ErrStoreClosed
	}
	if _, ok := s.records[driverID]; !ok {
		return nil
	}
	delete(s.records, driverID)
	s.fanout.Publish(s.snapshotLocked())
	return nil
}

// Subscribe registers fn for full-table deliveries.
func (s *Store) Subscribe(fn func(core.Snapshot)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, broadcast.ErrStoreClosed
	}
	return s.fanout.Add(s.snapshotLocked(), fn)
}

// Get returns the current record for driverID.
func (s *Store) Get(driverID string) (core.LocationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[driverID]
	return rec, ok
}

// Len returns the number of records in the table.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close drops all subscribers. The table is kept for inspection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.fanout.Close()
	return nil
}
