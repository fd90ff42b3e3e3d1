package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.record("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.record("INFO", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.record("ERROR", msg, keysAndValues)
}

func (l *testLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("scenario.start", func(e Event) (any, error) {
		got = e
		return "FULL_SERVICE", nil
	})

	result, err := d.Dispatch(Event{Command: "scenario.start", Args: []string{"FULL_SERVICE"}})
	require.NoError(t, err)
	assert.Equal(t, "FULL_SERVICE", result)
	assert.Equal(t, []string{"FULL_SERVICE"}, got.Args)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: "scenario.rewind"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "scenario.rewind")
}

func TestDispatcher_HandlerErrorPassesThrough(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sentinel := errors.New("unknown scenario")

	d.Register("scenario.info", func(e Event) (any, error) {
		return nil, sentinel
	})

	_, err := d.Dispatch(Event{Command: "scenario.info", Args: []string{"NOPE"}})
	assert.ErrorIs(t, err, sentinel)
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register("bus.record", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: "bus.record"})
		require.NoError(t, err)
		assert.Equal(t, Queued, result)
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	defer close(block)

	d.Register("bus.record", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(2))

	_, err := d.Dispatch(Event{Command: "bus.record"})
	require.NoError(t, err)
	<-started

	_, err = d.Dispatch(Event{Command: "bus.record"})
	require.NoError(t, err)
	_, err = d.Dispatch(Event{Command: "bus.record"})
	require.NoError(t, err)

	_, err = d.Dispatch(Event{Command: "bus.record"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register("bus.record", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	_, _ = d.Dispatch(Event{Command: "bus.record"})
	<-started
	_, _ = d.Dispatch(Event{Command: "bus.record"})

	done := make(chan struct{})
	go func() {
		_, _ = d.Dispatch(Event{Command: "bus.record"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not unblock")
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("demo.status", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	_, err := d.Dispatch(Event{Command: "demo.status"})
	require.NoError(t, err)

	msgs := logger.snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0], "DEBUG: handling event"))
	assert.True(t, strings.HasPrefix(msgs[1], "DEBUG: event complete"))
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("scenario.stop", func(e Event) (any, error) {
		return nil, errors.New("boom")
	}, Logged())

	_, err := d.Dispatch(Event{Command: "scenario.stop"})
	require.Error(t, err)

	var hasError bool
	for _, msg := range logger.snapshot() {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
		}
	}
	assert.True(t, hasError)
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("demo.stopAll", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler("demo.stopAll"))
	assert.False(t, d.HasHandler("demo.pause"))
}

func TestDispatcher_Commands(t *testing.T) {
	d, _ := newTestDispatcher(t)
	noop := func(e Event) (any, error) { return nil, nil }

	d.Register("scenario.stop", noop)
	d.Register("demo.stopAll", noop)
	d.Register("scenario.start", noop)

	assert.Equal(t, []string{"demo.stopAll", "scenario.start", "scenario.stop"}, d.Commands())
}

func TestDispatcher_BufferedLoggedRunsInWorker(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("bus.record", func(e Event) (any, error) {
		return nil, errors.New("store offline")
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: "bus.record", Source: "10.0.0.7:5120"})
	require.NoError(t, err)
	assert.Equal(t, Queued, result)

	assert.Eventually(t, func() bool {
		msgs := logger.snapshot()
		return len(msgs) == 2 && strings.HasPrefix(msgs[1], "ERROR: event failed")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, logger.snapshot()[0], "10.0.0.7:5120")
}

func TestDispatcher_ReRegisterReplaces(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("demo.status", func(e Event) (any, error) { return "old", nil })
	d.Register("demo.status", func(e Event) (any, error) { return "new", nil })

	result, err := d.Dispatch(Event{Command: "demo.status"})
	require.NoError(t, err)
	assert.Equal(t, "new", result)
	assert.Equal(t, []string{"demo.status"}, d.Commands())
}
