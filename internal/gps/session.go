// Package gps publishes a real driver's position from an NMEA receiver.
package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jacobsa/go-serial/serial"
	"github.com/jonboulle/clockwork"
)

// ErrEmptyIdentity is returned when a session has no driver or bus id.
var ErrEmptyIdentity = errors.New("gps session needs a driver id and a bus id")

// Publisher is the subset of the location publisher a session needs.
type Publisher interface {
	Publish(ctx context.Context, rec core.LocationRecord) error
	Retract(ctx context.Context, driverID string) error
}

// Fix is the last valid RMC fix seen by a session.
type Fix struct {
	Latitude   float64
	Longitude  float64
	SpeedKnots float64
	CourseDeg  float64
	At         time.Time
}

// Session publishes one driver's bus position for every valid RMC sentence.
type Session struct {
	DriverID    string
	BusID       string
	DriverEmail string

	pub         Publisher
	clock       clockwork.Clock
	logger      *slog.Logger
	minInterval time.Duration

	mu        sync.Mutex
	last      *Fix
	published int
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used for timestamps and throttling.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMinInterval drops fixes arriving sooner than d after the last published one.
func WithMinInterval(d time.Duration) Option {
	return func(s *Session) { s.minInterval = d }
}

// NewSession creates a session for driverID driving busID.
func NewSession(pub Publisher, driverID, busID string, opts ...Option) (*Session, error) {
	if driverID == "" || busID == "" {
		return nil, ErrEmptyIdentity
	}
	s := &Session{
		DriverID: driverID,
		BusID:    busID,
		pub:      pub,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run reads NMEA sentences from r until EOF, a read error or ctx is done.
// Unparseable lines and fixes flagged invalid are skipped.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			s.handleLine(ctx, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("gps read: %w", err)
		}
	}
}

func (s *Session) handleLine(ctx context.Context, line string) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		s.logger.Debug("Skipping NMEA line", "error", err)
		return
	}
	if sentence.DataType() != nmea.TypeRMC {
		return
	}
	m := sentence.(nmea.RMC)
	if m.Validity != nmea.ValidRMC {
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	if s.last != nil && s.minInterval > 0 && now.Sub(s.last.At) < s.minInterval {
		s.mu.Unlock()
		return
	}
	s.last = &Fix{
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		At:         now,
	}
	s.mu.Unlock()

	rec := core.LocationRecord{
		DriverID:    s.DriverID,
		BusID:       s.BusID,
		DriverEmail: s.DriverEmail,
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		Timestamp:   now.UnixMilli(),
		IsActive:    true,
	}
	if err := s.pub.Publish(ctx, rec); err != nil {
		s.logger.Warn("GPS publish failed", "driverId", s.DriverID, "error", err)
		return
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
}

// LastFix returns the most recent accepted fix.
func (s *Session) LastFix() (Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Fix{}, false
	}
	return *s.last, true
}

// Published returns how many fixes were written.
func (s *Session) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Stop retracts the driver's record so riders stop seeing the bus.
func (s *Session) Stop(ctx context.Context) error {
	return s.pub.Retract(ctx, s.DriverID)
}

// OpenSerial opens the receiver's serial port, 8N1.
func OpenSerial(cfg config.GPSConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              cfg.SerialPort,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.SerialPort, err)
	}
	return port, nil
}
