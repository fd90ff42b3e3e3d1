// Package history persists published bus positions and sharing start/stop
// events through gorm. It plugs into the publisher as a broadcast.Sink.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/internal/geo"
	"github.com/campus-shuttle/fleetsim/internal/queue"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var _ broadcast.Sink = (*Recorder)(nil)

// Recorder buffers samples and events in memory and writes them in batches.
type Recorder struct {
	db     *gorm.DB
	clock  clockwork.Clock
	logger *slog.Logger

	samples    *queue.Queue[PositionSample]
	events     *queue.Queue[TrackingEvent]
	maxPending int

	mu     sync.Mutex
	active map[string]string // driverId -> busId of drivers currently sharing

	flushMu sync.Mutex
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the clock driving the flush loop.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithMaxPending bounds each in-memory queue. Past the bound the oldest
// entries are dropped. Zero keeps the queues unbounded.
func WithMaxPending(n int) Option {
	return func(r *Recorder) { r.maxPending = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder writing to db. Call Start to begin periodic flushing.
func NewRecorder(db *gorm.DB, opts ...Option) *Recorder {
	r := &Recorder{
		db:      db,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		active: make(map[string]string),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.samples = queue.NewBounded[PositionSample](r.maxPending)
	r.events = queue.NewBounded[TrackingEvent](r.maxPending)
	return r
}

// RecordPosition queues a sample. The first sample of a driver also queues a start event.
func (r *Recorder) RecordPosition(_ context.Context, rec core.LocationRecord) error {
	if !rec.Valid() {
		return fmt.Errorf("record for %s has invalid coordinates", rec.DriverID)
	}
	loc, err := geo.WebMercator(core.Position{Latitude: rec.Latitude, Longitude: rec.Longitude})
	if err != nil {
		return fmt.Errorf("project %s: %w", rec.DriverID, err)
	}

	at := rec.Time()
	r.mu.Lock()
	prevBus, sharing := r.active[rec.DriverID]
	r.active[rec.DriverID] = rec.BusID
	r.mu.Unlock()

	if !sharing || prevBus != rec.BusID {
		r.events.Push(TrackingEvent{
			Time:     at,
			DriverID: rec.DriverID,
			BusID:    rec.BusID,
			Kind:     EventStart,
			Detail:   detail(map[string]any{"latitude": rec.Latitude, "longitude": rec.Longitude, "driverEmail": rec.DriverEmail}),
		})
	}

	r.samples.Push(PositionSample{
		Time:      at,
		DriverID:  rec.DriverID,
		BusID:     rec.BusID,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Location:  loc,
	})
	return nil
}

// RecordRetraction queues a stop event for a driver that was sharing.
func (r *Recorder) RecordRetraction(_ context.Context, driverID string, at time.Time) error {
	r.mu.Lock()
	busID, sharing := r.active[driverID]
	delete(r.active, driverID)
	r.mu.Unlock()

	if !sharing {
		return nil
	}
	r.events.Push(TrackingEvent{
		Time:     at,
		DriverID: driverID,
		BusID:    busID,
		Kind:     EventStop,
		Detail:   detail(map[string]any{"reason": "retracted"}),
	})
	return nil
}

// Start launches the flush loop. Later calls are no-ops.
func (r *Recorder) Start(interval time.Duration) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop(interval)
}

func (r *Recorder) loop(interval time.Duration) {
	defer close(r.done)
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if err := r.Flush(context.Background()); err != nil {
				r.logger.Error("Failed to flush history", "error", err)
			}
		case <-r.stop:
			return
		}
	}
}

// Flush writes every queued sample and event. A batch that fails to write is
// put back at the head of its queue for the next flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	samples := r.samples.Drain()
	events := r.events.Drain()
	if len(samples) == 0 && len(events) == 0 {
		return nil
	}

	start := r.clock.Now()
	db := r.db.WithContext(ctx)
	if len(samples) > 0 {
		if err := db.CreateInBatches(samples, 500).Error; err != nil {
			r.requeue(samples, events)
			return fmt.Errorf("write %d position samples: %w", len(samples), err)
		}
	}
	if len(events) > 0 {
		if err := db.CreateInBatches(events, 500).Error; err != nil {
			r.requeue(nil, events)
			return fmt.Errorf("write %d tracking events: %w", len(events), err)
		}
	}
	r.logger.Debug("Flushed history",
		"samples", len(samples),
		"events", len(events),
		"duration", r.clock.Since(start))
	return nil
}

func (r *Recorder) requeue(samples []PositionSample, events []TrackingEvent) {
	lost := r.samples.Requeue(samples...) + r.events.Requeue(events...)
	if lost > 0 {
		r.logger.Warn("History queue full, dropped oldest entries", "dropped", lost)
	}
}

// Pending returns the number of queued samples and events.
func (r *Recorder) Pending() (samples, events int) {
	return r.samples.Len(), r.events.Len()
}

// Close stops the flush loop and writes what is still queued.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		close(r.stop)
	})
	if r.started.Load() {
		<-r.done
	}
	return r.Flush(ctx)
}

func detail(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
