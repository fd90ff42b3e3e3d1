package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/api"
	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/internal/broadcast/memory"
	"github.com/campus-shuttle/fleetsim/internal/broadcast/mqtt"
	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/campus-shuttle/fleetsim/internal/database"
	"github.com/campus-shuttle/fleetsim/internal/demo"
	"github.com/campus-shuttle/fleetsim/internal/history"
	"github.com/campus-shuttle/fleetsim/internal/influx"
	"github.com/campus-shuttle/fleetsim/internal/monitor"
	"github.com/campus-shuttle/fleetsim/internal/routes"
	"github.com/campus-shuttle/fleetsim/internal/simulation"
	"github.com/campus-shuttle/fleetsim/pkg/core"

	"github.com/spf13/viper"
)

// services is everything a run mode may start. Unused parts stay nil.
type services struct {
	store     broadcast.Store
	publisher *broadcast.Publisher
	catalog   *routes.Catalog
	scenarios []core.ScenarioDefinition

	db       *database.Manager
	recorder *history.Recorder
	influx   *influx.Manager

	engine       *simulation.Engine
	orchestrator *demo.Orchestrator
	monitor      *monitor.Service
}

func openStore() (broadcast.Store, error) {
	storeCfg := config.GetStoreConfig()
	switch storeCfg.Type {
	case "", "memory":
		Logger.Info("Using in-process broadcast store")
		return memory.New(), nil
	case "mqtt":
		mqttCfg := config.GetMQTTConfig()
		return mqtt.Dial(mqtt.Config{
			Broker:   mqttCfg.Broker,
			ClientID: mqttCfg.ClientID,
			Prefix:   storeCfg.Path,
			QoS:      mqttCfg.QoS,
			Timeout:  mqttCfg.Timeout,
		}, SlogManager.Component("mqtt"))
	default:
		return nil, fmt.Errorf("unknown store type %q", storeCfg.Type)
	}
}

// openSinks connects the optional position recorders. A recorder that cannot
// be set up is logged and skipped.
func (s *services) openSinks(ctx context.Context) []broadcast.Sink {
	var sinks []broadcast.Sink

	historyCfg := config.GetHistoryConfig()
	if historyCfg.Enabled {
		s.db = database.NewManager(ZLogger.With().Str("component", "database").Logger())
		err := s.db.Connect(ctx, historyCfg, config.GetDBConfig())
		if err == nil {
			err = s.db.Setup(history.Models...)
		}
		if err != nil {
			Logger.Error("History disabled", "error", err)
			_ = s.db.Close()
			s.db = nil
		} else {
			s.recorder = history.NewRecorder(s.db.DB,
				history.WithLogger(SlogManager.Component("history")),
				history.WithMaxPending(historyCfg.MaxPending),
			)
			s.recorder.Start(historyCfg.FlushInterval)
			sinks = append(sinks, s.recorder)
		}
	}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		m := influx.NewManager(ZLogger.With().Str("component", "influx").Logger(), influxCfg.BackupPath)
		if err := m.Connect(ctx, influxCfg); err != nil {
			Logger.Error("Influx disabled", "error", err)
		} else {
			s.influx = m
			sinks = append(sinks, m)
		}
	}
	return sinks
}

// loadCatalog starts from the builtin routes and scenarios, then merges the
// catalog file and the remote catalog service when configured.
func (s *services) loadCatalog(ctx context.Context) error {
	builtin := routes.Builtin()
	s.catalog = routes.NewBuiltinCatalog()
	s.scenarios = builtin.CoreScenarios()

	simCfg := config.GetSimulationConfig()
	if simCfg.CatalogFile != "" {
		f, err := routes.LoadFile(simCfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("failed to load catalog file: %w", err)
		}
		if err := s.catalog.Merge(f); err != nil {
			return fmt.Errorf("failed to merge catalog file: %w", err)
		}
		s.scenarios = append(s.scenarios, f.CoreScenarios()...)
		Logger.Info("Loaded catalog file", "path", simCfg.CatalogFile, "routes", len(f.Routes), "scenarios", len(f.Scenarios))
	}

	catalogCfg := config.GetCatalogConfig()
	if catalogCfg.ServerURL != "" {
		client := api.New(catalogCfg.ServerURL, catalogCfg.APIKey)
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var remote []core.Route
		err := client.Healthcheck(fetchCtx)
		if err == nil {
			remote, err = client.FetchRoutes(fetchCtx)
		}
		cancel()
		if err != nil {
			Logger.Warn("Failed to fetch remote routes, continuing without them", "url", catalogCfg.ServerURL, "error", err)
		}
		for _, r := range remote {
			if err := s.catalog.Add(r); err != nil {
				Logger.Warn("Skipping remote route", "route", r.ID, "error", err)
			}
		}
	}

	if simCfg.DefaultRoute != "" {
		if err := s.catalog.SetDefault(simCfg.DefaultRoute); err != nil {
			Logger.Warn("Keeping catalog default route", "requested", simCfg.DefaultRoute, "default", s.catalog.DefaultID(), "error", err)
		}
	}
	return nil
}

// open builds the store, publisher, engine and orchestrator.
func (s *services) open(ctx context.Context) error {
	if err := s.loadCatalog(ctx); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open broadcast store: %w", err)
	}
	s.store = store

	s.publisher = broadcast.NewPublisher(store,
		broadcast.WithSinks(s.openSinks(ctx)...),
		broadcast.WithLogger(SlogManager.Component("publisher")),
	)

	s.engine, err = simulation.NewEngine(s.publisher, s.catalog,
		simulation.WithLogger(SlogManager.Component("simulation")),
	)
	if err != nil {
		return fmt.Errorf("failed to create simulation engine: %w", err)
	}
	activeEngine.Store(s.engine)

	s.orchestrator = demo.New(s.engine,
		demo.WithLogger(SlogManager.Component("demo")),
		demo.WithScenarios(s.scenarios...),
	)
	return nil
}

func (s *services) startMonitor() {
	deps := monitor.Dependencies{
		Source:     s.orchestrator,
		Logger:     SlogManager.Component("monitor"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: filepath.Join(viper.GetString("logsDir"), BinaryName+".status.json"),
	}
	if s.influx != nil {
		deps.Writer = s.influx
	}
	s.monitor = monitor.NewService(deps)
	s.monitor.Start()
}

// close tears everything down: running simulations first so their final
// retractions reach the store and the recorders.
func (s *services) close() error {
	var errs []error
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.orchestrator != nil {
		if err := s.orchestrator.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose orchestrator: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.recorder != nil {
		if err := s.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close history recorder: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close influx: %w", err))
		}
	}
	activeEngine.Store(nil)
	return errors.Join(errs...)
}
