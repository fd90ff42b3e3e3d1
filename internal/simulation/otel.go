package simulation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/campus-shuttle/fleetsim/internal/simulation"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	ticks         metric.Int64Counter
	publishErrors metric.Int64Counter
	active        metric.Int64ObservableGauge
	registration  metric.Registration
}

func newMetrics(activeCount func() int) (*metrics, error) {
	m := meter()
	out := &metrics{}

	var err error
	out.ticks, err = m.Int64Counter(
		"simulation.ticks",
		metric.WithDescription("Total simulation ticks processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}

	out.publishErrors, err = m.Int64Counter(
		"simulation.publish.errors",
		metric.WithDescription("Location writes or removals that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publish errors counter: %w", err)
	}

	out.active, err = m.Int64ObservableGauge(
		"simulation.active",
		metric.WithDescription("Currently running simulations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active gauge: %w", err)
	}

	out.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(out.active, int64(activeCount()))
			return nil
		},
		out.active,
	)
	if err != nil {
		return nil, fmt.Errorf("registering active callback: %w", err)
	}

	return out, nil
}
