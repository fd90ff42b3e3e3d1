package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// stdout is the fallback output when no writer is given.
var stdout io.Writer = os.Stdout

// Options selects where SlogManager sends records.
type Options struct {
	// Output receives text records. Defaults to stdout.
	Output io.Writer
	Level  string

	// Provider bridges records to OpenTelemetry when non-nil.
	Provider *sdklog.LoggerProvider

	// Extra handlers (e.g. Graylog) receive every record as well.
	Extra []slog.Handler

	// Context is evaluated for every record.
	Context ContextProvider
}

// SlogManager owns the process logger: a text handler, an optional OTel
// bridge and any extra sinks, all behind one *slog.Logger.
type SlogManager struct {
	logger      *slog.Logger
	level       slog.LevelVar
	logProvider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// utcTime renders record times as RFC3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup (re)builds the logger. Calling it again replaces the previous
// outputs.
func (m *SlogManager) Setup(opts Options) {
	m.level.Set(parseLevel(opts.Level))
	m.logProvider = opts.Provider

	out := opts.Output
	if out == nil {
		out = stdout
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(out, &slog.HandlerOptions{Level: &m.level, ReplaceAttr: utcTime}),
	}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler("fleetsim", otelslog.WithLoggerProvider(opts.Provider)))
	}
	handlers = append(handlers, opts.Extra...)

	m.logger = slog.New(&stamper{next: newFanout(handlers...), provider: opts.Context})
	m.logger.Info("Logging initialized", "level", m.level.Level().String())
}

// SetLevel changes the text output level without rebuilding the logger.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(parseLevel(level))
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Component returns a logger tagged with a component name.
func (m *SlogManager) Component(name string) *slog.Logger {
	return m.Logger().With("component", name)
}

// Flush pushes buffered OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}
