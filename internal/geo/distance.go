package geo

import (
	"math"

	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Haversine returns the great-circle distance between two points in kilometers.
func Haversine(a, b core.Position) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// TotalDistance sums the haversine distance of consecutive waypoints, in kilometers.
// Fewer than two waypoints yield 0.
func TotalDistance(waypoints []core.Waypoint) float64 {
	var total float64
	for i := 1; i < len(waypoints); i++ {
		total += Haversine(waypoints[i-1].Position(), waypoints[i].Position())
	}
	return total
}

// PositionAtProgress interpolates a position along the route for progress in [0,1].
// Progress is spread evenly across segments regardless of segment length, so
// segment i covers [i/(n-1), (i+1)/(n-1)]. The returned index is the segment's
// starting waypoint. Progress 0 and 1 return the first and last waypoint exactly.
func PositionAtProgress(waypoints []core.Waypoint, progress float64) (core.Position, int) {
	n := len(waypoints)
	switch {
	case n == 0:
		return core.Position{}, 0
	case n == 1:
		return waypoints[0].Position(), 0
	}

	if math.IsNaN(progress) || progress <= 0 {
		return waypoints[0].Position(), 0
	}
	if progress >= 1 {
		return waypoints[n-1].Position(), n - 2
	}

	scaled := progress * float64(n-1)
	seg := int(math.Floor(scaled))
	if seg > n-2 {
		seg = n - 2
	}
	t := scaled - float64(seg)

	from, to := waypoints[seg], waypoints[seg+1]
	return core.Position{
		Latitude:  from.Latitude + (to.Latitude-from.Latitude)*t,
		Longitude: from.Longitude + (to.Longitude-from.Longitude)*t,
	}, seg
}

// TraversalTimeMs is how long a bus at speedKmh takes to cover distanceKm, in milliseconds.
func TraversalTimeMs(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return 0
	}
	return distanceKm / speedKmh * 3600 * 1000
}
