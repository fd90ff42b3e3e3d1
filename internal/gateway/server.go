// Package gateway exposes the live bus feed, the demo controls and the
// transit exports over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/demo"
	"github.com/campus-shuttle/fleetsim/internal/dispatcher"
	"github.com/campus-shuttle/fleetsim/internal/geo"
	"github.com/campus-shuttle/fleetsim/internal/gtfsrt"
	"github.com/campus-shuttle/fleetsim/internal/logging"
	"github.com/campus-shuttle/fleetsim/internal/tracking"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Simulations lists running simulations; used to attach route ids to feeds.
type Simulations interface {
	ListActive() []core.ActiveSimulation
}

// RouteCatalog resolves route ids.
type RouteCatalog interface {
	Get(id string) (core.Route, bool)
	Routes() []string
}

// Dependencies holds everything the gateway serves from.
type Dependencies struct {
	Tracking    *tracking.Client
	Dispatcher  *dispatcher.Dispatcher
	Demo        Demo
	Simulations Simulations
	Routes      RouteCatalog
	Logger      *slog.Logger
	Clock       clockwork.Clock
}

// Server is the HTTP gateway.
type Server struct {
	deps     Dependencies
	hub      *hub
	mux      *http.ServeMux
	upgrader ws.Upgrader
	unsub    func()
}

// New creates the gateway and subscribes it to the active-bus feed.
func New(deps Dependencies) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	s := &Server{
		deps: deps,
		hub:  newHub(deps.Logger),
		mux:  http.NewServeMux(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	unsub, err := deps.Tracking.SubscribeToAllActiveBuses(s.hub.update)
	if err != nil {
		return nil, err
	}
	s.unsub = unsub
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws/buses", s.handleFeed)
	s.mux.HandleFunc("GET /api/buses", s.handleBuses)
	s.mux.HandleFunc("GET /api/buses/{busId}", s.handleBus)
	s.mux.HandleFunc("GET /api/nearest-bus", s.handleNearestBus)
	s.mux.HandleFunc("GET /api/routes", s.handleRouteList)
	s.mux.HandleFunc("GET /api/routes/{id}", s.handleRoute)
	s.mux.HandleFunc("GET /api/demo/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/demo/scenarios", s.handleScenarios)
	s.mux.HandleFunc("GET /api/demo/scenarios/{name}", s.handleScenarioInfo)
	s.mux.HandleFunc("POST /api/demo/scenarios/{name}/start", s.handleCommand(CmdScenarioStart, pathArg("name")))
	s.mux.HandleFunc("POST /api/demo/scenarios/{name}/stop", s.handleCommand(CmdScenarioStop, pathArg("name")))
	s.mux.HandleFunc("POST /api/demo/stop-all", s.handleCommand(CmdDemoStopAll, noArgs))
	s.mux.HandleFunc("POST /api/demo/buses", s.handleCommand(CmdBusStart, bodyArg))
	s.mux.HandleFunc("GET /gtfs-rt/vehicle-positions", s.handleVehiclePositions)
}

// ServeHTTP implements http.Handler. Records logged with the request context
// carry the caller's address and the request path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWith(r.Context(),
		slog.String("remote", r.RemoteAddr),
		slog.String("path", r.URL.Path),
	)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Clients returns the number of open feed connections.
func (s *Server) Clients() int {
	return s.hub.len()
}

// Close unsubscribes from the store and drops every feed connection.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.hub.closeAll()
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.deps.Logger.Info("Gateway listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	c := newFeedClient(conn, s.deps.Logger.With("remote", r.RemoteAddr))
	go c.writeLoop()
	s.hub.add(c)
	go s.hub.readLoop(c)
}

func (s *Server) handleBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.snapshot())
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("busId")
	rec, ok := s.hub.snapshot()[busID]
	if !ok {
		writeError(w, http.StatusNotFound, "bus not active: "+busID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// NearestBus is the response of GET /api/nearest-bus.
type NearestBus struct {
	Bus        core.LocationRecord `json:"bus"`
	DistanceKm float64             `json:"distanceKm"`
}

// handleNearestBus answers ?at=lat,lng with the closest live bus.
func (s *Server) handleNearestBus(w http.ResponseWriter, r *http.Request) {
	at, err := geo.PositionFromString(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be \"lat,lng\": "+err.Error())
		return
	}

	var best *NearestBus
	for _, rec := range s.hub.snapshot() {
		d := geo.Haversine(at, rec.Position())
		if best == nil || d < best.DistanceKm || (d == best.DistanceKm && rec.BusID < best.Bus.BusID) {
			best = &NearestBus{Bus: rec, DistanceKm: d}
		}
	}
	if best == nil {
		writeError(w, http.StatusNotFound, "no active buses")
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) handleRouteList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Routes.Routes())
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	route, ok := s.deps.Routes.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown route: "+id)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(geo.RouteFeature(route)); err != nil {
		s.deps.Logger.WarnContext(r.Context(), "Failed to write route", "routeId", id, "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Demo.GetDemoStatus())
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Demo.GetAvailableScenarios())
}

func (s *Server) handleScenarioInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Demo.GetScenarioInfo(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type argsFunc func(r *http.Request) ([]string, error)

func pathArg(name string) argsFunc {
	return func(r *http.Request) ([]string, error) {
		return []string{r.PathValue(name)}, nil
	}
}

func noArgs(*http.Request) ([]string, error) { return nil, nil }

func bodyArg(r *http.Request) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	return []string{string(body)}, nil
}

// handleCommand turns a control request into a dispatcher event.
func (s *Server) handleCommand(command string, args argsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := args(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
			Command:   command,
			Args:      a,
			Timestamp: s.deps.Clock.Now(),
			Source:    r.RemoteAddr,
		})
		if err != nil {
			s.deps.Logger.InfoContext(r.Context(), "Control command rejected", "command", command, "error", err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"command": command, "result": result})
	}
}

func (s *Server) handleVehiclePositions(w http.ResponseWriter, r *http.Request) {
	routeOf := make(map[string]string)
	if s.deps.Simulations != nil {
		for _, sim := range s.deps.Simulations.ListActive() {
			routeOf[sim.Config.BusID] = sim.Config.RouteID
		}
	}

	data, err := gtfsrt.Encode(gtfsrt.VehiclePositions(s.hub.snapshot(), routeOf, s.deps.Clock.Now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, demo.ErrUnknownScenario), errors.Is(err, dispatcher.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, dispatcher.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidConfig), errors.Is(err, errMissingArg):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
