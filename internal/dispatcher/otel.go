package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/campus-shuttle/fleetsim/internal/dispatcher"

type metrics struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
}

// newMetrics registers the dispatcher instruments on the global meter
// provider, a no-op until OTel is configured. queued reports the current
// depth of every buffered command.
func newMetrics(queued func(observe func(command string, depth int))) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}
	var err error

	if out.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Control commands handled")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if out.failed, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Control commands whose handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	if out.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Control commands rejected because their queue was full")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	depth, err := m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Control commands waiting in a buffered queue"))
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		queued(func(command string, n int) {
			o.ObserveInt64(depth, int64(n), metric.WithAttributes(commandAttr(command)))
		})
		return nil
	}, depth)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	return out, nil
}

func commandAttr(command string) attribute.KeyValue {
	return attribute.String("command", command)
}

func (m *metrics) handled(command string, err error) {
	attrs := metric.WithAttributes(commandAttr(command))
	m.processed.Add(context.Background(), 1, attrs)
	if err != nil {
		m.failed.Add(context.Background(), 1, attrs)
	}
}

func (m *metrics) drop(command string) {
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(commandAttr(command)))
}
