// Package gtfsrt renders the active bus table as a GTFS-Realtime
// VehiclePositions feed.
package gtfsrt

import (
	"fmt"
	"sort"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/campus-shuttle/fleetsim/pkg/core"
	"google.golang.org/protobuf/proto"
)

// Version is the GTFS-Realtime spec version advertised in feed headers.
const Version = "2.0"

// VehiclePositions builds a full-dataset feed with one entity per bus.
// routes maps bus ids to route ids; buses without an entry carry no trip.
// Entities are ordered by bus id.
func VehiclePositions(buses map[string]core.LocationRecord, routes map[string]string, now time.Time) *gtfsrtpb.FeedMessage {
	ids := make([]string, 0, len(buses))
	for id := range buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	feed := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(ids)),
	}

	for _, busID := range ids {
		rec := buses[busID]
		if !rec.Live() {
			continue
		}
		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(busID),
				Label: proto.String(busID),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(rec.Latitude)),
				Longitude: proto.Float32(float32(rec.Longitude)),
			},
			Timestamp: proto.Uint64(uint64(rec.Time().Unix())),
		}
		if routeID, ok := routes[busID]; ok && routeID != "" {
			vp.Trip = &gtfsrtpb.TripDescriptor{RouteId: proto.String(routeID)}
		}
		feed.Entity = append(feed.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String("vehicle-" + busID),
			Vehicle: vp,
		})
	}
	return feed
}

// Encode serializes a feed to protobuf wire format.
func Encode(feed *gtfsrtpb.FeedMessage) ([]byte, error) {
	data, err := proto.Marshal(feed)
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	return data, nil
}
