// Package mqtt is a broadcast store backed by retained MQTT messages.
//
// Each driver's record is a retained JSON message on <prefix>/<driverId>.
// Removing a record publishes an empty retained payload, which clears it on
// the broker. The store subscribes to <prefix>/+ and rebuilds the full table
// from what the broker sends back, so every process sharing the broker sees
// the same table.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
	Timeout  time.Duration
}

// client is the subset of paho.Client the store uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
}

// Store mirrors the broker's retained driver records.
type Store struct {
	client  client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	records map[string]core.LocationRecord
	fanout  *broadcast.Fanout
	closed  bool
}

func newStore(cfg Config, logger *slog.Logger) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		prefix:  strings.TrimRight(cfg.Prefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger,
		records: make(map[string]core.LocationRecord),
		fanout:  broadcast.NewFanout(),
	}
}

// Dial connects to the broker and subscribes to the driver table.
// The subscription is renewed on every reconnect.
func Dial(cfg Config, logger *slog.Logger) (*Store, error) {
	s := newStore(cfg, logger)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.timeout).
		SetOnConnectHandler(func(c paho.Client) {
			if err := s.subscribe(); err != nil {
				s.logger.Error("Failed to subscribe to driver table", "error", err)
			}
		}).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			s.logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
		})

	c := paho.NewClient(opts)
	s.client = c
	token := c.Connect()
	if !token.WaitTimeout(s.timeout) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	s.logger.Info("Connected to MQTT broker", "broker", cfg.Broker, "prefix", s.prefix)
	return s, nil
}

// newWithClient wires a store to an already connected client.
func newWithClient(c client, cfg Config, logger *slog.Logger) (*Store, error) {
	s := newStore(cfg, logger)
	s.client = c
	if err := s.subscribe(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) topic(driverID string) string {
	return s.prefix + "/" + driverID
}

func (s *Store) subscribe() error {
	return s.wait(s.client.Subscribe(s.prefix+"/+", s.qos, s.handleMessage))
}

func (s *Store) wait(token paho.Token) error {
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt operation timed out after %s", s.timeout)
	}
	return token.Error()
}

func (s *Store) handleMessage(_ paho.Client, msg paho.Message) {
	driverID := strings.TrimPrefix(msg.Topic(), s.prefix+"/")
	if driverID == "" || strings.Contains(driverID, "/") {
		return
	}

	var (
		rec     core.LocationRecord
		present bool
	)
	if payload := msg.Payload(); len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.logger.Warn("Dropping malformed driver record", "driverId", driverID, "error", err)
		} else {
			present = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_, existed := s.records[driverID]
	if present {
		s.records[driverID] = rec
	} else if existed {
		delete(s.records, driverID)
	} else {
		return
	}
	s.fanout.Publish(core.Snapshot(s.records).Clone())
}

// Write publishes rec as the retained record of driverID.
func (s *Store) Write(_ context.Context, driverID string, rec core.LocationRecord) error {
	if s.isClosed() {
		return broadcast.ErrStoreClosed
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.wait(s.client.Publish(s.topic(driverID), s.qos, true, payload))
}

// Remove clears the retained record of driverID.
func (s *Store) Remove(_ context.Context, driverID string) error {
	if s.isClosed() {
		return broadcast.ErrStoreClosed
	}
	return s.wait(s.client.Publish(s.topic(driverID), s.qos, true, []byte{}))
}

// Subscribe registers fn for full-table deliveries.
func (s *Store) Subscribe(fn func(core.Snapshot)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, broadcast.ErrStoreClosed
	}
	return s.fanout.Add(core.Snapshot(s.records).Clone(), fn)
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unsubscribes, drops local subscribers and disconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.fanout.Close()
	s.mu.Unlock()

	err := s.wait(s.client.Unsubscribe(s.prefix + "/+"))
	s.client.Disconnect(250)
	return err
}
