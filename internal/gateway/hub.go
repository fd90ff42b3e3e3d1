package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/campus-shuttle/fleetsim/pkg/streaming"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize     = 64
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// feedClient is one /ws/buses connection with a single write goroutine.
type feedClient struct {
	id     string
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	filter string // bus id, empty for the whole fleet

	logger *slog.Logger
}

func newFeedClient(conn *ws.Conn, logger *slog.Logger) *feedClient {
	id := uuid.NewString()
	return &feedClient{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: logger.With("connectionId", id),
	}
}

// writeLoop drains sendCh and writes messages to the socket.
func (c *feedClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Debug("WebSocket write error", "error", err)
				c.close()
				return
			}
		}
	}
}

// send queues data for the write loop without blocking. When the client lags
// the oldest queued message gives way, so the newest bus table always gets
// through.
func (c *feedClient) send(data []byte) {
	for {
		select {
		case <-c.done:
			return
		case c.sendCh <- data:
			return
		default:
		}
		select {
		case <-c.sendCh:
			c.logger.Warn("WebSocket send channel full, dropping oldest message")
		default:
		}
	}
}

func (c *feedClient) busFilter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *feedClient) setFilter(busID string) {
	c.mu.Lock()
	c.filter = busID
	c.mu.Unlock()
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
}

// hub fans the active-bus map out to every feed client.
type hub struct {
	mu      sync.Mutex
	clients map[string]*feedClient
	latest  map[string]core.LocationRecord
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[string]*feedClient),
		latest:  map[string]core.LocationRecord{},
		logger:  logger,
	}
}

// update replaces the active-bus map and pushes it to every client.
func (h *hub) update(buses map[string]core.LocationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = buses

	full, err := activeBusesMessage(buses, "")
	if err != nil {
		h.logger.Error("Failed to encode active buses", "error", err)
		return
	}
	for _, c := range h.clients {
		if f := c.busFilter(); f != "" {
			h.sendFiltered(c, f)
			continue
		}
		c.send(full)
	}
}

func (h *hub) sendFiltered(c *feedClient, busID string) {
	data, err := activeBusesMessage(h.latest, busID)
	if err != nil {
		h.logger.Error("Failed to encode active buses", "error", err)
		return
	}
	c.send(data)
}

// snapshot returns the last active-bus map.
func (h *hub) snapshot() map[string]core.LocationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// add registers c and greets it with its id and the current map.
func (h *hub) add(c *feedClient) {
	hello, err := streaming.Marshal(streaming.TypeHello, streaming.HelloPayload{ConnectionID: c.id})
	if err != nil {
		h.logger.Error("Failed to encode hello", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	c.send(hello)
	h.sendFiltered(c, "")
}

func (h *hub) remove(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// track narrows c's feed and sends the filtered map right away.
func (h *hub) track(c *feedClient, busID string) {
	c.setFilter(busID)
	ack, err := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: streaming.TypeTrackBus})
	if err == nil {
		c.send(ack)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendFiltered(c, busID)
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*feedClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// readLoop handles client requests until the socket fails.
func (h *hub) readLoop(c *feedClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Ignoring malformed client message")
			continue
		}
		switch env.Type {
		case streaming.TypeTrackBus:
			var req streaming.TrackBusPayload
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				c.logger.Debug("Ignoring malformed track_bus payload")
				continue
			}
			h.track(c, req.BusID)
		default:
			c.logger.Debug("Ignoring client message", "type", env.Type)
		}
	}
}

func activeBusesMessage(buses map[string]core.LocationRecord, busID string) ([]byte, error) {
	out := buses
	if busID != "" {
		out = map[string]core.LocationRecord{}
		if rec, ok := buses[busID]; ok {
			out[busID] = rec
		}
	}
	if out == nil {
		out = map[string]core.LocationRecord{}
	}
	return streaming.Marshal(streaming.TypeActiveBuses, streaming.ActiveBusesPayload{Buses: out})
}
