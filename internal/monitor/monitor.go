// Package monitor samples the demo status on an interval and publishes it to
// the log, an optional time-series writer and an optional JSON status file.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/jonboulle/clockwork"
)

type StatusSource interface {
	GetDemoStatus() core.DemoStatus
}

// StatusWriter persists status samples, e.g. as influx points.
type StatusWriter interface {
	WriteStatus(ctx context.Context, status core.DemoStatus, at time.Time) error
}

type Dependencies struct {
	Source   StatusSource
	Writer   StatusWriter // optional
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Interval time.Duration

	// StatusFile, when set, is replaced with the latest status as JSON on
	// every sample.
	StatusFile string
}

type Service struct {
	deps Dependencies

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastBuses     int
	lastScenarios []string
}

func NewService(deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	return &Service{deps: deps, lastBuses: -1}
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Sample takes one status sample. It is logged at info level when the
// active buses or scenarios changed since the previous sample, at debug
// level otherwise.
func (s *Service) Sample(ctx context.Context) core.DemoStatus {
	status := s.deps.Source.GetDemoStatus()
	now := s.deps.Clock.Now()

	level := slog.LevelDebug
	s.mu.Lock()
	if status.ActiveBuses != s.lastBuses || !slices.Equal(status.ActiveScenarios, s.lastScenarios) {
		level = slog.LevelInfo
		s.lastBuses = status.ActiveBuses
		s.lastScenarios = slices.Clone(status.ActiveScenarios)
	}
	s.mu.Unlock()
	s.deps.Logger.Log(ctx, level, "Demo status",
		"activeBuses", status.ActiveBuses,
		"activeScenarios", status.ActiveScenarios)

	if s.deps.Writer != nil {
		if err := s.deps.Writer.WriteStatus(ctx, status, now); err != nil {
			s.deps.Logger.Error("Error writing demo status", "error", err)
		}
	}
	if s.deps.StatusFile != "" {
		if err := replaceFile(s.deps.StatusFile, status); err != nil {
			s.deps.Logger.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
		}
	}
	return status
}

// replaceFile writes v as JSON next to path and renames it into place, so
// readers never see a partial file.
func replaceFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Start samples every Interval until Stop. Calling it while running does
// nothing.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Service) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := s.deps.Clock.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sample(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight sample to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
