package tracking

import (
	"errors"
	"strings"
	"sync"

	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// ErrEmptyBusID is returned when tracking is requested without a bus id.
var ErrEmptyBusID = errors.New("bus id is empty")

// State is the liveness state of a Tracker.
type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// OnStopped is called once when the tracked bus stops sharing its location.
func OnStopped(fn func(busID string)) TrackerOption {
	return func(t *Tracker) {
		t.onStopped = fn
	}
}

// OnUpdate is called with every live record of the tracked bus.
func OnUpdate(fn func(core.LocationRecord)) TrackerOption {
	return func(t *Tracker) {
		t.onUpdate = fn
	}
}

// Tracker follows one bus. It moves from Idle to Tracking on Track and back
// to Idle when the feed reports the bus gone or StopTracking is called.
// There is no heartbeat: going Idle relies on the publisher retracting its record.
type Tracker struct {
	client    *Client
	onStopped func(busID string)
	onUpdate  func(core.LocationRecord)

	mu           sync.Mutex
	state        State
	busID        string
	position     *core.Position
	lastNotified string
	unsubscribe  func()
	gen          uint64
}

// NewTracker creates an idle tracker.
func NewTracker(client *Client, opts ...TrackerOption) *Tracker {
	t := &Tracker{client: client}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track starts following busID, replacing any bus tracked before.
func (t *Tracker) Track(busID string) error {
	busID = strings.TrimSpace(busID)
	if busID == "" {
		return ErrEmptyBusID
	}

	t.mu.Lock()
	old := t.unsubscribe
	t.gen++
	gen := t.gen
	t.state = Tracking
	t.busID = busID
	t.position = nil
	t.lastNotified = ""
	t.unsubscribe = nil
	t.mu.Unlock()

	if old != nil {
		old()
	}

	unsub, err := t.client.SubscribeToOneBus(busID, func(rec *core.LocationRecord) {
		t.handle(gen, rec)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.gen == gen {
			t.state = Idle
			t.busID = ""
		}
		return err
	}
	if t.gen != gen {
		// Already went idle or was replaced while subscribing.
		unsub()
		return nil
	}
	t.unsubscribe = unsub
	return nil
}

func (t *Tracker) handle(gen uint64, rec *core.LocationRecord) {
	t.mu.Lock()
	if gen != t.gen || t.state != Tracking {
		t.mu.Unlock()
		return
	}

	if rec != nil {
		pos := rec.Position()
		t.position = &pos
		t.mu.Unlock()
		if t.onUpdate != nil {
			t.onUpdate(*rec)
		}
		return
	}

	busID := t.busID
	unsub := t.unsubscribe
	t.gen++
	t.state = Idle
	t.busID = ""
	t.position = nil
	t.unsubscribe = nil
	notify := busID != "" && t.lastNotified != busID
	if notify {
		t.lastNotified = busID
	}
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if notify && t.onStopped != nil {
		t.onStopped(busID)
	}
}

// StopTracking returns to Idle without a stop notification.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.gen++
	t.state = Idle
	t.busID = ""
	t.position = nil
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// State returns the current liveness state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BusID returns the tracked bus id, empty when idle.
func (t *Tracker) BusID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busID
}

// Position returns the last known position of the tracked bus.
func (t *Tracker) Position() (core.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position == nil {
		return core.Position{}, false
	}
	return *t.position, true
}
