package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/campus-shuttle/fleetsim/internal/broadcast/memory"
	"github.com/campus-shuttle/fleetsim/internal/demo"
	"github.com/campus-shuttle/fleetsim/internal/dispatcher"
	"github.com/campus-shuttle/fleetsim/internal/logging"
	"github.com/campus-shuttle/fleetsim/internal/routes"
	"github.com/campus-shuttle/fleetsim/internal/tracking"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/campus-shuttle/fleetsim/pkg/streaming"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

type fakeDemo struct {
	mu      sync.Mutex
	started []string
	stopped []string
	stopAll int
	adHoc   []core.SimulationConfig
	known   map[string]bool
}

func (f *fakeDemo) StartScenario(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[name] {
		return fmt.Errorf("%w: %s", demo.ErrUnknownScenario, name)
	}
	f.started = append(f.started, name)
	return nil
}

func (f *fakeDemo) StopScenario(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[name] {
		return fmt.Errorf("%w: %s", demo.ErrUnknownScenario, name)
	}
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeDemo) StopAllDemos() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
}

func (f *fakeDemo) StartSingleBus(cfg core.SimulationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adHoc = append(f.adHoc, cfg)
	return nil
}

func (f *fakeDemo) GetDemoStatus() core.DemoStatus {
	return core.DemoStatus{ActiveBuses: 1, ActiveScenarios: []string{"BIDIRECTIONAL"}, Buses: []core.BusStatus{}}
}

func (f *fakeDemo) GetAvailableScenarios() []core.ScenarioSummary {
	return []core.ScenarioSummary{{Key: "BIDIRECTIONAL", Name: "Bidirectional", BusCount: 2}}
}

func (f *fakeDemo) GetScenarioInfo(name string) (core.ScenarioInfo, error) {
	if !f.known[name] {
		return core.ScenarioInfo{}, fmt.Errorf("%w: %s", demo.ErrUnknownScenario, name)
	}
	return core.ScenarioInfo{Name: name, BusCount: 2}, nil
}

type fakeSims []core.ActiveSimulation

func (f fakeSims) ListActive() []core.ActiveSimulation { return f }

type fixture struct {
	store  *memory.Store
	demo   *fakeDemo
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	d, err := dispatcher.New(logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)

	fd := &fakeDemo{known: map[string]bool{"BIDIRECTIONAL": true}}
	RegisterCommands(d, fd)

	srv, err := New(Dependencies{
		Tracking:   tracking.NewClient(store),
		Dispatcher: d,
		Demo:       fd,
		Simulations: fakeSims{{
			Key:    core.SimulationKey{DriverID: "DEMO_DRIVER_001", BusID: "DEMO_BUS_001"},
			Config: core.SimulationConfig{BusID: "DEMO_BUS_001", RouteID: "APU_TO_LRT"},
		}},
		Routes: routes.NewBuiltinCatalog(),
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		_ = store.Close()
	})
	return &fixture{store: store, demo: fd, server: srv, http: hs}
}

func (f *fixture) publish(t *testing.T, driverID, busID string) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), driverID, core.LocationRecord{
		DriverID:  driverID,
		BusID:     busID,
		Latitude:  3.0553,
		Longitude: 101.6997,
		Timestamp: 1700000000000,
		IsActive:  true,
	}))
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestBusEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, _ := get(t, f.http.URL+"/api/buses/DEMO_BUS_001")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.publish(t, "DEMO_DRIVER_001", "DEMO_BUS_001")

	require.Eventually(t, func() bool {
		resp, _ := get(t, f.http.URL+"/api/buses/DEMO_BUS_001")
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	_, body := get(t, f.http.URL+"/api/buses/DEMO_BUS_001")
	var rec core.LocationRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "DEMO_DRIVER_001", rec.DriverID)
}

func TestNearestBus(t *testing.T) {
	f := newFixture(t)

	resp, _ := get(t, f.http.URL+"/api/nearest-bus?at=nowhere")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, f.http.URL+"/api/nearest-bus?at=3.0553,101.6997")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.publish(t, "DEMO_DRIVER_001", "DEMO_BUS_001")
	require.NoError(t, f.store.Write(context.Background(), "DEMO_DRIVER_002", core.LocationRecord{
		DriverID:  "DEMO_DRIVER_002",
		BusID:     "DEMO_BUS_002",
		Latitude:  3.0582,
		Longitude: 101.69212,
		Timestamp: 1700000000000,
		IsActive:  true,
	}))

	require.Eventually(t, func() bool {
		return len(f.server.hub.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	resp, body := get(t, f.http.URL+"/api/nearest-bus?at=3.0581,101.6922")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got NearestBus
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "DEMO_BUS_002", got.Bus.BusID)
	assert.Less(t, got.DistanceKm, 0.1)
}

func TestScenarioCommands(t *testing.T) {
	f := newFixture(t)

	resp, _ := post(t, f.http.URL+"/api/demo/scenarios/BIDIRECTIONAL/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, f.http.URL+"/api/demo/scenarios/NOPE/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = post(t, f.http.URL+"/api/demo/scenarios/BIDIRECTIONAL/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, f.http.URL+"/api/demo/stop-all", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.demo.mu.Lock()
	defer f.demo.mu.Unlock()
	assert.Equal(t, []string{"BIDIRECTIONAL"}, f.demo.started)
	assert.Equal(t, []string{"BIDIRECTIONAL"}, f.demo.stopped)
	assert.Equal(t, 1, f.demo.stopAll)
}

func TestAdHocBus(t *testing.T) {
	f := newFixture(t)

	resp, _ := post(t, f.http.URL+"/api/demo/buses", `{"busId":"B9","driverId":"D9","routeId":"FORTUNE_PARK","speedKmh":30,"updateIntervalMs":1000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, f.http.URL+"/api/demo/buses", `{"busId":"B9","driverId":"D9","speedKmh":0,"updateIntervalMs":1000}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, f.http.URL+"/api/demo/buses", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.demo.mu.Lock()
	defer f.demo.mu.Unlock()
	require.Len(t, f.demo.adHoc, 1)
	assert.Equal(t, time.Second, f.demo.adHoc[0].UpdateInterval)
	assert.Equal(t, "FORTUNE_PARK", f.demo.adHoc[0].RouteID)
}

func TestStatusAndScenarios(t *testing.T) {
	f := newFixture(t)

	_, body := get(t, f.http.URL+"/api/demo/status")
	var status core.DemoStatus
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, 1, status.ActiveBuses)

	_, body = get(t, f.http.URL+"/api/demo/scenarios")
	var list []core.ScenarioSummary
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].BusCount)

	resp, _ := get(t, f.http.URL+"/api/demo/scenarios/BIDIRECTIONAL")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, f.http.URL+"/api/demo/scenarios/NOPE")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouteGeoJSON(t *testing.T) {
	f := newFixture(t)

	resp, body := get(t, f.http.URL+"/api/routes/LRT_BUKIT_JALIL")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	var feature struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	require.NoError(t, json.Unmarshal(body, &feature))
	assert.Equal(t, "Feature", feature.Type)
	assert.Equal(t, "LineString", feature.Geometry.Type)
	assert.Len(t, feature.Geometry.Coordinates, 10)

	resp, _ = get(t, f.http.URL+"/api/routes/NOPE")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = get(t, f.http.URL+"/api/routes")
	var ids []string
	require.NoError(t, json.Unmarshal(body, &ids))
	assert.Contains(t, ids, "APU_TO_LRT")
}

func TestVehiclePositionsFeed(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "DEMO_DRIVER_001", "DEMO_BUS_001")

	var feed gtfsrtpb.FeedMessage
	require.Eventually(t, func() bool {
		resp, body := get(t, f.http.URL+"/gtfs-rt/vehicle-positions")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		feed.Reset()
		if err := proto.Unmarshal(body, &feed); err != nil {
			return false
		}
		return len(feed.Entity) == 1
	}, time.Second, 10*time.Millisecond)

	vp := feed.Entity[0].GetVehicle()
	assert.Equal(t, "DEMO_BUS_001", vp.GetVehicle().GetId())
	assert.Equal(t, "APU_TO_LRT", vp.GetTrip().GetRouteId())
}

func readEnvelope(t *testing.T, conn *ws.Conn) streaming.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readBusesUntil reads active_buses messages until one satisfies pred.
func readBusesUntil(t *testing.T, conn *ws.Conn, pred func(map[string]core.LocationRecord) bool) map[string]core.LocationRecord {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type != streaming.TypeActiveBuses {
			continue
		}
		var p streaming.ActiveBusesPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		if pred(p.Buses) {
			return p.Buses
		}
	}
}

func empty(m map[string]core.LocationRecord) bool { return len(m) == 0 }

func hasBus(busID string) func(map[string]core.LocationRecord) bool {
	return func(m map[string]core.LocationRecord) bool {
		_, ok := m[busID]
		return ok
	}
}

func TestFeed_PushesActiveBuses(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/buses"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	require.Equal(t, streaming.TypeHello, hello.Type)
	var hp streaming.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))
	assert.Len(t, hp.ConnectionID, 36)

	readBusesUntil(t, conn, empty)
	require.Eventually(t, func() bool { return f.server.Clients() == 1 }, time.Second, 10*time.Millisecond)

	f.publish(t, "DEMO_DRIVER_001", "DEMO_BUS_001")
	buses := readBusesUntil(t, conn, hasBus("DEMO_BUS_001"))
	assert.Equal(t, "DEMO_DRIVER_001", buses["DEMO_BUS_001"].DriverID)

	require.NoError(t, f.store.Remove(context.Background(), "DEMO_DRIVER_001"))
	readBusesUntil(t, conn, empty)
}

func TestFeed_TrackBusFilters(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "DEMO_DRIVER_001", "DEMO_BUS_001")
	require.Eventually(t, func() bool {
		_, ok := f.server.hub.snapshot()["DEMO_BUS_001"]
		return ok
	}, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/buses"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, streaming.TypeHello, readEnvelope(t, conn).Type)
	readBusesUntil(t, conn, hasBus("DEMO_BUS_001"))

	req, err := streaming.Marshal(streaming.TypeTrackBus, streaming.TrackBusPayload{BusID: "OTHER_BUS"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, req))

	readBusesUntil(t, conn, empty)

	f.publish(t, "DEMO_DRIVER_002", "OTHER_BUS")
	buses := readBusesUntil(t, conn, hasBus("OTHER_BUS"))
	assert.NotContains(t, buses, "DEMO_BUS_001")
}
