package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned for latitudes outside [-90, 90] or
// longitudes outside [-180, 180].
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Positions travel as WGS84 degrees. The history recorder stores them in
// web mercator so SQLite, which has no spatial types, can round-trip the WKB.
var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

func inRange(p core.Position) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// PositionFromString parses "lat,lng", e.g. a ?at= query parameter.
func PositionFromString(coords string) (core.Position, error) {
	latStr, lngStr, ok := strings.Cut(coords, ",")
	if !ok || strings.Contains(lngStr, ",") {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	p := core.Position{Latitude: lat, Longitude: lng}
	if !inRange(p) {
		return core.Position{}, ErrInvalidCoordinates
	}
	return p, nil
}

// WebMercator projects p to an EPSG:3857 point.
func WebMercator(p core.Position) (geom.Point, error) {
	if !inRange(p) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	x, y, _ := toWebMercator(p.Longitude, p.Latitude, 0)
	return geom.XY{X: x, Y: y}.AsPoint(), nil
}
