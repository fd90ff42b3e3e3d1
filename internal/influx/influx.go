// Package influx records bus positions and demo status as InfluxDB time
// series. While the server is unreachable, points are appended to a gzip
// line-protocol file that can be replayed later with `influx write`.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/campus-shuttle/fleetsim/internal/geo"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	BucketPositions = "fleet_positions"
	BucketStatus    = "fleet_status"
)

// Buckets are created on connect when missing.
var Buckets = []string{BucketPositions, BucketStatus}

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx is disabled")

var _ broadcast.Sink = (*Manager)(nil)

// pointSink is where points end up: the live server or the backup file.
type pointSink interface {
	write(bucket string, p *influxdb2_write.Point) error
	close() error
}

type Manager struct {
	log        zerolog.Logger
	backupPath string

	mu     sync.Mutex
	client influxdb2.Client
	sink   pointSink
	online bool
	last   map[string]core.LocationRecord // driverId -> previous position
}

func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		log:        log,
		backupPath: backupPath,
		last:       make(map[string]core.LocationRecord),
	}
}

// Connect pings the server and prepares the organization and buckets. An
// unreachable server is not an error: points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context, cfg config.InfluxConfig) error {
	if !cfg.Enabled {
		return ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", cfg.Protocol, cfg.Host, cfg.Port),
		cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(500).SetFlushInterval(1000),
	)

	if ok, err := client.Ping(ctx); err != nil || !ok {
		client.Close()
		m.log.Warn().Err(err).Str("backupPath", m.backupPath).Msg("InfluxDB unreachable, writing to backup file")
		b, err := openBackup(m.backupPath)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.sink = b
		m.mu.Unlock()
		return nil
	}

	if err := ensureBuckets(ctx, client, cfg.Org, cfg.Retention, m.log); err != nil {
		client.Close()
		return err
	}

	live := &liveSink{writers: make(map[string]influxdb2_api.WriteAPI, len(Buckets))}
	for _, bucket := range Buckets {
		w := client.WriteAPI(cfg.Org, bucket)
		live.writers[bucket] = w
		go m.logWriteErrors(bucket, w.Errors())
	}

	m.mu.Lock()
	m.client, m.sink, m.online = client, live, true
	m.mu.Unlock()
	m.log.Info().Str("org", cfg.Org).Strs("buckets", Buckets).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) logWriteErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.log.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
	}
}

func ensureBuckets(ctx context.Context, client influxdb2.Client, orgName string, retention time.Duration, log zerolog.Logger) error {
	orgs := client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, orgName)
	if err != nil {
		log.Info().Str("org", orgName).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, orgName); err != nil {
			return fmt.Errorf("create organization %s: %w", orgName, err)
		}
	}

	rule := domain.RetentionRuleTypeExpire
	buckets := client.BucketsAPI()
	for _, name := range Buckets {
		if _, err := buckets.FindBucketByName(ctx, name); err == nil {
			continue
		}
		log.Info().Str("bucket", name).Dur("retention", retention).Msg("Bucket not found, creating")
		_, err := buckets.CreateBucketWithName(ctx, org, name, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: int64(retention / time.Second),
		})
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return nil
}

// Online reports whether points go to a live server.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WritePoint sends a point to bucket, or to the backup file when offline.
func (m *Manager) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink == nil {
		return errors.New("influx not connected and no backup file open")
	}
	return m.sink.write(bucket, p)
}

// RecordPosition writes a bus_position point. From the second position of a
// driver on, the point also carries the speed since the previous one.
func (m *Manager) RecordPosition(ctx context.Context, rec core.LocationRecord) error {
	p := PositionPoint(rec)

	m.mu.Lock()
	prev, ok := m.last[rec.DriverID]
	m.last[rec.DriverID] = rec
	m.mu.Unlock()
	if ok && prev.BusID == rec.BusID {
		if kmh, ok := speedKmh(prev, rec); ok {
			p.AddField("speedKmh", kmh)
		}
	}
	return m.WritePoint(ctx, BucketPositions, p)
}

// RecordRetraction writes a bus_retracted point.
func (m *Manager) RecordRetraction(ctx context.Context, driverID string, at time.Time) error {
	m.mu.Lock()
	delete(m.last, driverID)
	m.mu.Unlock()

	p := influxdb2_write.NewPointWithMeasurement("bus_retracted").
		AddTag("driverId", driverID).
		AddTag("source", Source).
		AddField("count", 1).
		SetTime(at)
	return m.WritePoint(ctx, BucketPositions, p)
}

// WriteStatus writes a demo_status point.
func (m *Manager) WriteStatus(ctx context.Context, status core.DemoStatus, at time.Time) error {
	return m.WritePoint(ctx, BucketStatus, StatusPoint(status, at))
}

// Source tags every point this process writes. The client renders a tagless
// point as "measurement, fields", which is not valid line protocol.
const Source = "fleetsim"

func PositionPoint(rec core.LocationRecord) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("bus_position").
		AddTag("busId", rec.BusID).
		AddTag("driverId", rec.DriverID).
		AddTag("source", Source).
		AddField("latitude", rec.Latitude).
		AddField("longitude", rec.Longitude).
		SetTime(rec.Time())
}

func StatusPoint(status core.DemoStatus, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("demo_status").
		AddTag("source", Source).
		AddField("activeBuses", status.ActiveBuses).
		AddField("activeScenarios", len(status.ActiveScenarios)).
		SetTime(at)
}

// speedKmh is the average speed between two fixes. Fixes out of order or at
// the same instant have no speed.
func speedKmh(from, to core.LocationRecord) (float64, bool) {
	dt := to.Time().Sub(from.Time())
	if dt <= 0 {
		return 0, false
	}
	km := geo.Haversine(
		core.Position{Latitude: from.Latitude, Longitude: from.Longitude},
		core.Position{Latitude: to.Latitude, Longitude: to.Longitude},
	)
	return km / dt.Hours(), true
}

// Close flushes pending points and closes the backup file. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.sink != nil {
		err = m.sink.close()
		m.sink = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.online = false
	return err
}

type liveSink struct {
	writers map[string]influxdb2_api.WriteAPI
}

func (s *liveSink) write(bucket string, p *influxdb2_write.Point) error {
	w, ok := s.writers[bucket]
	if !ok {
		return fmt.Errorf("influx bucket %q not registered", bucket)
	}
	w.WritePoint(p)
	return nil
}

func (s *liveSink) close() error {
	for _, w := range s.writers {
		w.Flush()
	}
	return nil
}

type backupSink struct {
	file *os.File
	gz   *gzip.Writer
}

func openBackup(path string) (*backupSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open influx backup file: %w", err)
	}
	return &backupSink{file: f, gz: gzip.NewWriter(f)}, nil
}

// write ignores the bucket; the backup file is a single stream.
func (s *backupSink) write(_ string, p *influxdb2_write.Point) error {
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(p, time.Millisecond), "\n") + "\n"
	if _, err := s.gz.Write([]byte(line)); err != nil {
		return fmt.Errorf("write influx backup: %w", err)
	}
	return nil
}

func (s *backupSink) close() error {
	return errors.Join(s.gz.Close(), s.file.Close())
}
