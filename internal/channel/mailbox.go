// Package channel hands values between goroutines without coupling the
// producer to the pace of the consumer.
package channel

import (
	"sync"

	"github.com/campus-shuttle/fleetsim/internal/queue"
)

// Mailbox is an unbounded FIFO channel whose Send never blocks.
// A pump goroutine hands queued values to Receive in order; it stops and
// closes the receive channel once Close is called.
type Mailbox[T any] struct {
	items *queue.Queue[T]
	wake  chan struct{}
	out   chan T
	done  chan struct{}
	once  sync.Once
}

// NewMailbox creates a mailbox and starts its pump.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		items: queue.New[T](),
		wake:  make(chan struct{}, 1),
		out:   make(chan T),
		done:  make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	for {
		for {
			v, ok := m.items.TryPop()
			if !ok {
				break
			}
			select {
			case m.out <- v:
			case <-m.done:
				return
			}
		}
		select {
		case <-m.wake:
		case <-m.done:
			return
		}
	}
}

// Send queues v. Values sent after Close are discarded.
func (m *Mailbox[T]) Send(v T) {
	select {
	case <-m.done:
		return
	default:
	}
	m.items.Push(v)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Receive returns the receive-only channel
func (m *Mailbox[T]) Receive() <-chan T {
	return m.out
}

// Len returns the number of values not yet handed to the receiver
func (m *Mailbox[T]) Len() int {
	return m.items.Len()
}

// Close stops the pump. Pending values are dropped. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() {
		close(m.done)
		m.items.Clear()
	})
}
