package broadcast

import (
	"sync"

	"github.com/campus-shuttle/fleetsim/internal/channel"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Fanout hands snapshots to subscribers. Each subscriber owns a mailbox and a
// delivery goroutine, so a slow callback never blocks writers or other subscribers.
type Fanout struct {
	mu     sync.Mutex
	subs   map[uint64]*channel.Mailbox[core.Snapshot]
	next   uint64
	closed bool
}

// NewFanout creates an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[uint64]*channel.Mailbox[core.Snapshot])}
}

// Add registers fn and queues initial as its first delivery.
// Callers hold their table lock across Add so that no change slips between
// the initial snapshot and the first Publish.
func (f *Fanout) Add(initial core.Snapshot, fn func(core.Snapshot)) (func(), error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrStoreClosed
	}
	id := f.next
	f.next++
	box := channel.NewMailbox[core.Snapshot]()
	f.subs[id] = box
	box.Send(initial.Clone())
	f.mu.Unlock()

	go func() {
		for snap := range box.Receive() {
			fn(snap)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			box.Close()
		})
	}, nil
}

// Publish queues a copy of snap for every subscriber.
func (f *Fanout) Publish(snap core.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, box := range f.subs {
		box.Send(snap.Clone())
	}
}

// Len returns the number of subscribers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drops every subscriber. Later Adds fail with ErrStoreClosed.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, box := range f.subs {
		box.Close()
		delete(f.subs, id)
	}
}
