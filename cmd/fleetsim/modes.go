package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/broadcast"
	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/campus-shuttle/fleetsim/internal/dispatcher"
	"github.com/campus-shuttle/fleetsim/internal/gateway"
	"github.com/campus-shuttle/fleetsim/internal/gps"
	"github.com/campus-shuttle/fleetsim/internal/logging"
	"github.com/campus-shuttle/fleetsim/internal/tracking"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// runServe runs the gateway, simulations and recorders until ctx is done.
func runServe(ctx context.Context) error {
	s := &services{}
	if err := s.open(ctx); err != nil {
		return errors.Join(err, s.close())
	}
	s.startMonitor()

	gatewayCfg := config.GetGatewayConfig()
	if !gatewayCfg.Enabled {
		Logger.Info("Gateway disabled, waiting for signal")
		<-ctx.Done()
		Logger.Info("Shutting down")
		return s.close()
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(ZLogger.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create dispatcher: %w", err), s.close())
	}
	gateway.RegisterCommands(d, s.orchestrator)
	Logger.Debug("Registered control commands", "commands", d.Commands())

	gw, err := gateway.New(gateway.Dependencies{
		Tracking:    tracking.NewClient(s.store),
		Dispatcher:  d,
		Demo:        s.orchestrator,
		Simulations: s.engine,
		Routes:      s.catalog,
		Logger:      SlogManager.Component("gateway"),
	})
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create gateway: %w", err), s.close())
	}

	serveErr := gw.ListenAndServe(ctx, gatewayCfg.Listen)
	Logger.Info("Shutting down", "clients", gw.Clients())
	gw.Close()
	return errors.Join(serveErr, s.close())
}

// runDemo starts one scenario and waits until all of its buses completed
// their routes, or until ctx is done.
func runDemo(ctx context.Context, scenario string) error {
	s := &services{}
	if err := s.open(ctx); err != nil {
		return errors.Join(err, s.close())
	}
	s.startMonitor()

	if err := s.orchestrator.StartScenario(scenario); err != nil {
		return errors.Join(fmt.Errorf("failed to start %s: %w", scenario, err), s.close())
	}
	info, err := s.orchestrator.GetScenarioInfo(scenario)
	if err == nil {
		Logger.Info("Scenario started", "scenario", scenario, "name", info.Name, "buses", info.BusCount)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			Logger.Info("Interrupted, stopping scenario", "scenario", scenario)
			return s.close()
		case <-ticker.C:
			status := s.orchestrator.GetDemoStatus()
			if status.ActiveBuses == 0 && s.orchestrator.PendingStarts() == 0 {
				Logger.Info("Scenario complete", "scenario", scenario)
				return s.close()
			}
		}
	}
}

// runGPS shares the position of a serial NMEA receiver as driverID/busID
// until ctx is done, then retracts it.
func runGPS(ctx context.Context, driverID, busID string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open broadcast store: %w", err)
	}
	defer store.Close()
	publisher := broadcast.NewPublisher(store, broadcast.WithLogger(SlogManager.Component("publisher")))

	gpsCfg := config.GetGPSConfig()
	port, err := gps.OpenSerial(gpsCfg)
	if err != nil {
		return err
	}
	Logger.Info("Opened GPS receiver", "port", gpsCfg.SerialPort, "baud", gpsCfg.BaudRate)

	session, err := gps.NewSession(publisher, driverID, busID,
		gps.WithLogger(SlogManager.Component("gps")),
		gps.WithMinInterval(gpsCfg.MinInterval),
	)
	if err != nil {
		port.Close()
		return err
	}

	// a blocked serial read only returns once the port is closed
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	runErr := session.Run(ctx, port)
	if ctx.Err() != nil {
		runErr = nil
	}
	Logger.Info("GPS session ended", "published", session.Published())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, session.Stop(stopCtx))
}

// runTrack follows one bus on the shared store and logs its positions until
// it stops sharing or ctx is done.
func runTrack(ctx context.Context, busID string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open broadcast store: %w", err)
	}
	defer store.Close()

	logger := SlogManager.Component("track")
	stopped := make(chan struct{}, 1)
	tracker := tracking.NewTracker(tracking.NewClient(store),
		tracking.OnUpdate(func(rec core.LocationRecord) {
			logger.Info("Bus position", "busId", rec.BusID, "lat", rec.Latitude, "lng", rec.Longitude, "at", rec.Time())
		}),
		tracking.OnStopped(func(id string) {
			logger.Info("Bus stopped sharing its location", "busId", id)
			select {
			case stopped <- struct{}{}:
			default:
			}
		}),
	)
	if err := tracker.Track(busID); err != nil {
		return err
	}
	defer tracker.StopTracking()

	select {
	case <-ctx.Done():
	case <-stopped:
	}
	if pos, ok := tracker.Position(); ok {
		logger.Info("Last known position", "busId", busID, "lat", pos.Latitude, "lng", pos.Longitude)
	}
	return nil
}
