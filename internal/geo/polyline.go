package geo

import (
	"encoding/json"
	"fmt"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ParsePolyline parses a JSON array of [lat,lng] pairs into waypoints.
// Input format: "[[lat1,lng1],[lat2,lng2],...]"
func ParsePolyline(input string) ([]core.Waypoint, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	if len(coords) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(coords))
	}

	waypoints := make([]core.Waypoint, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		waypoints[i] = core.Waypoint{Latitude: coord[0], Longitude: coord[1]}
	}

	return waypoints, nil
}

// LineString converts waypoints into a lng/lat geom.LineString.
func LineString(waypoints []core.Waypoint) geom.LineString {
	flatCoords := make([]float64, 0, len(waypoints)*2)
	for _, wp := range waypoints {
		flatCoords = append(flatCoords, wp.Longitude, wp.Latitude)
	}
	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq)
}

// RouteFeature renders a route as a GeoJSON feature with its waypoints' names as a property.
func RouteFeature(route core.Route) geom.GeoJSONFeature {
	names := make([]string, len(route.Waypoints))
	for i, wp := range route.Waypoints {
		names[i] = wp.Name
	}
	return geom.GeoJSONFeature{
		Geometry: LineString(route.Waypoints).AsGeometry(),
		ID:       route.ID,
		Properties: map[string]interface{}{
			"name":       route.Name,
			"waypoints":  names,
			"distanceKm": TotalDistance(route.Waypoints),
		},
	}
}
