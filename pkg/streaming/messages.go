package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Message types pushed over the /ws/buses feed.
const (
	TypeHello       = "hello"
	TypeActiveBuses = "active_buses"
	TypeTrackBus    = "track_bus"
	TypeAck         = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage acknowledges a client request.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload is the first message of every connection.
type HelloPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ActiveBusesPayload carries the active-bus map, keyed by bus id.
// An empty map means no bus is sharing its location.
type ActiveBusesPayload struct {
	Buses map[string]core.LocationRecord `json:"buses"`
}

// TrackBusPayload narrows a connection's feed to one bus. An empty BusID
// restores the full feed.
type TrackBusPayload struct {
	BusID string `json:"busId"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
