package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "fleetsim"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_WithWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "fleetsim-test",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	assert.False(t, p.MetricsEnabled())
	require.NotNil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_MetricsToWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:        true,
		ServiceVersion: "1.2.3",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
		MetricInterval: time.Hour,
	})
	require.NoError(t, err)
	require.True(t, p.MetricsEnabled())

	counter, err := otel.Meter("fleetsim-test").Int64Counter("dispatcher.events.processed")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "dispatcher.events.processed")
	assert.Contains(t, buf.String(), "1.2.3")
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	cfg := FromConfig(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "fleetsim",
		BatchTimeout: 5 * time.Second,
		Endpoint:     "localhost:4318",
		Insecure:     true,

		MetricInterval: time.Minute,
	}, &buf)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "fleetsim", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, time.Minute, cfg.MetricInterval)
	assert.Same(t, &buf, cfg.LogWriter)
}
