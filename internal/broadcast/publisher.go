package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jonboulle/clockwork"
)

// Sink receives a copy of every published record and retraction.
// History and time-series recorders implement it.
type Sink interface {
	RecordPosition(ctx context.Context, rec core.LocationRecord) error
	RecordRetraction(ctx context.Context, driverID string, at time.Time) error
}

// Publisher writes driver locations into a Store and fans them out to sinks.
type Publisher struct {
	store  Store
	sinks  []Sink
	clock  clockwork.Clock
	logger *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSinks adds sinks that observe every publish and retract.
func WithSinks(sinks ...Sink) PublisherOption {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(c clockwork.Clock) PublisherOption {
	return func(p *Publisher) {
		p.clock = c
	}
}

// WithLogger sets the logger for sink failures.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = l
	}
}

// NewPublisher creates a Publisher over store.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish marks the record active, stamps it if it carries no timestamp and
// writes it under its driver id. Sinks are only notified after the store write
// succeeded; sink failures are logged, not returned.
func (p *Publisher) Publish(ctx context.Context, rec core.LocationRecord) error {
	if rec.DriverID == "" {
		return fmt.Errorf("publish: driver id is empty")
	}
	rec.IsActive = true
	if rec.Timestamp == 0 {
		rec.Timestamp = p.clock.Now().UnixMilli()
	}

	if err := p.store.Write(ctx, rec.DriverID, rec); err != nil {
		return fmt.Errorf("publish %s: %w", rec.DriverID, err)
	}

	for _, s := range p.sinks {
		if err := s.RecordPosition(ctx, rec); err != nil {
			p.logger.Warn("Sink failed to record position", "driverId", rec.DriverID, "error", err)
		}
	}
	return nil
}

// Retract removes the driver's record. Removing an absent record is not an error.
func (p *Publisher) Retract(ctx context.Context, driverID string) error {
	if err := p.store.Remove(ctx, driverID); err != nil {
		return fmt.Errorf("retract %s: %w", driverID, err)
	}

	at := p.clock.Now()
	for _, s := range p.sinks {
		if err := s.RecordRetraction(ctx, driverID, at); err != nil {
			p.logger.Warn("Sink failed to record retraction", "driverId", driverID, "error", err)
		}
	}
	return nil
}

// Store returns the underlying store.
func (p *Publisher) Store() Store {
	return p.store
}
