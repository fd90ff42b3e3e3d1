package routes

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	c := NewBuiltinCatalog()

	assert.Equal(t, []string{
		"APU_TO_LRT", "BLOOMSVALE", "CITY_OF_GREEN", "FORTUNE_PARK", "LRT_BUKIT_JALIL", "M_VERTICA",
	}, c.Routes())
	assert.Equal(t, "LRT_BUKIT_JALIL", c.DefaultID())

	for _, id := range c.Routes() {
		r, ok := c.Get(id)
		require.True(t, ok)
		assert.Len(t, r.Waypoints, 10, id)
		assert.Equal(t, 2*time.Second, r.DefaultUpdateInterval, id)
	}

	lrt, _ := c.Get("LRT_BUKIT_JALIL")
	assert.Equal(t, core.Waypoint{Latitude: 3.0582, Longitude: 101.69212, Name: "LRT Bukit Jalil Station"}, lrt.Waypoints[0])
}

func TestBuiltinScenarios(t *testing.T) {
	scenarios := Builtin().CoreScenarios()
	require.Len(t, scenarios, 2)

	full := scenarios[0]
	assert.Equal(t, "FULL_SERVICE", full.Key)
	assert.Equal(t, "Full Service - All Routes", full.Name)
	require.Len(t, full.Buses, 5)
	assert.Equal(t, 40*time.Second, full.Buses[4].StartDelay)
	assert.Equal(t, "bloomsvale_full_1", full.Buses[4].Config.DriverID)
	assert.Equal(t, 22.0, full.Buses[1].Config.SpeedKmh)

	bi := scenarios[1]
	assert.Equal(t, "BIDIRECTIONAL", bi.Key)
	require.Len(t, bi.Buses, 2)
	assert.Equal(t, "APU_TO_LRT", bi.Buses[1].Config.RouteID)
	assert.Equal(t, 15*time.Second, bi.Buses[1].StartDelay)
	assert.Equal(t, "lrt2@apu.edu.my", bi.Buses[1].Config.DriverEmail)
}

func TestLookup_FallsBackToDefault(t *testing.T) {
	c := NewBuiltinCatalog()

	r, ok := c.Lookup("FORTUNE_PARK")
	assert.True(t, ok)
	assert.Equal(t, "FORTUNE_PARK", r.ID)

	r, ok = c.Lookup("NOWHERE")
	assert.False(t, ok)
	assert.Equal(t, "LRT_BUKIT_JALIL", r.ID)
}

func TestLookup_EmptyCatalog(t *testing.T) {
	c, err := NewCatalog("")
	require.NoError(t, err)

	r, ok := c.Lookup("X")
	assert.False(t, ok)
	assert.Empty(t, r.Waypoints)
}

func TestAdd_RejectsShortRoutes(t *testing.T) {
	c, err := NewCatalog("")
	require.NoError(t, err)

	err = c.Add(core.Route{ID: "ONE", Waypoints: []core.Waypoint{{Latitude: 1, Longitude: 1}}})
	require.ErrorIs(t, err, ErrTooFewWaypoints)

	err = c.Add(core.Route{Waypoints: []core.Waypoint{{}, {}}})
	require.Error(t, err)
}

func TestSetDefault_Unknown(t *testing.T) {
	c := NewBuiltinCatalog()
	require.ErrorIs(t, c.SetDefault("NOPE"), ErrUnknownRoute)
	assert.Equal(t, "LRT_BUKIT_JALIL", c.DefaultID())
}

func TestLoadFile_MergesRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	doc := `
defaultRoute: LOOP
routes:
  - id: LOOP
    name: Campus loop
    speedKmh: 15
    updateInterval: 1s
    waypoints:
      - {lat: 3.0560, lng: 101.7000, name: "Gate"}
      - {lat: 3.0550, lng: 101.6990, name: "Library"}
      - {lat: 3.0560, lng: 101.7000, name: "Gate"}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	c := NewBuiltinCatalog()
	require.NoError(t, c.Merge(f))
	assert.Equal(t, "LOOP", c.DefaultID())

	r, ok := c.Lookup("LOOP")
	require.True(t, ok)
	assert.Equal(t, time.Second, r.DefaultUpdateInterval)
	assert.Len(t, r.Waypoints, 3)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"one waypoint": `
routes:
  - id: SHORT
    waypoints:
      - {lat: 3, lng: 101}
`,
		"latitude out of range": `
routes:
  - id: BAD
    waypoints:
      - {lat: 95, lng: 101}
      - {lat: 3, lng: 101}
`,
		"bus without speed": `
scenarios:
  - key: S
    name: S
    buses:
      - {driverId: d, busId: b, routeId: R, updateInterval: 2s}
`,
		"unknown field": `
routes:
  - id: X
    colour: red
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
