package history

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Event kinds stored in TrackingEvent.Kind.
const (
	EventStart = "start"
	EventStop  = "stop"
)

// Models lists the tables owned by the history recorder.
var Models = []any{
	&PositionSample{},
	&TrackingEvent{},
}

// PositionSample is one published location of a bus.
// Location is the web-mercator (EPSG:3857) projection stored as WKB.
type PositionSample struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time  `json:"time" gorm:"index:idx_position_bus_time,priority:2"`
	DriverID  string     `json:"driverId" gorm:"size:64;index"`
	BusID     string     `json:"busId" gorm:"size:64;index:idx_position_bus_time,priority:1"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Location  geom.Point `json:"location" gorm:"type:bytes"`
}

func (*PositionSample) TableName() string {
	return "position_samples"
}

// TrackingEvent marks a driver starting or stopping location sharing.
type TrackingEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"index"`
	DriverID string         `json:"driverId" gorm:"size:64;index"`
	BusID    string         `json:"busId" gorm:"size:64"`
	Kind     string         `json:"kind" gorm:"size:16"`
	Detail   datatypes.JSON `json:"detail"`
}

func (*TrackingEvent) TableName() string {
	return "tracking_events"
}
