package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshbridge/internal/bus"
	"meshbridge/internal/domain"
	"meshbridge/internal/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP API is already open cross-origin; the event feed follows.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEvent is one frame on the event feed.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsEvent
}

// Hub fans bus events out to websocket subscribers. Slow clients are
// disconnected rather than allowed to stall the feed.
type Hub struct {
	logger *slog.Logger
	bus    bus.MessageBus

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(logger *slog.Logger, b bus.MessageBus) *Hub {
	return &Hub{
		logger:  logger,
		bus:     b,
		clients: make(map[*wsClient]struct{}),
	}
}

// Start subscribes the hub to the session's event topics until ctx ends.
func (h *Hub) Start(ctx context.Context) {
	if h.bus == nil {
		return
	}

	msgSub := h.bus.Subscribe(events.TopicMessage)
	statusSub := h.bus.Subscribe(events.TopicConnStatus)
	contactSub := h.bus.Subscribe(events.TopicContact)
	selfSub := h.bus.Subscribe(events.TopicSelfInfo)
	rawInSub := h.bus.Subscribe(events.TopicRawFrameIn)
	rawOutSub := h.bus.Subscribe(events.TopicRawFrameOut)

	go func() {
		defer func() {
			h.bus.Unsubscribe(msgSub, events.TopicMessage)
			h.bus.Unsubscribe(statusSub, events.TopicConnStatus)
			h.bus.Unsubscribe(contactSub, events.TopicContact)
			h.bus.Unsubscribe(selfSub, events.TopicSelfInfo)
			h.bus.Unsubscribe(rawInSub, events.TopicRawFrameIn)
			h.bus.Unsubscribe(rawOutSub, events.TopicRawFrameOut)
			h.closeAll()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgSub:
				if !ok {
					return
				}
				h.broadcast(wsEvent{Type: "message", Data: msg})
			case msg, ok := <-statusSub:
				if !ok {
					return
				}
				if status, isStatus := msg.(events.ConnStatus); isStatus {
					h.broadcast(wsEvent{Type: "conn_status", Data: map[string]any{
						"state":  string(status.State),
						"target": status.Target,
						"error":  status.Err,
					}})
				}
			case msg, ok := <-contactSub:
				if !ok {
					return
				}
				h.broadcast(wsEvent{Type: "contacts", Data: msg})
			case msg, ok := <-selfSub:
				if !ok {
					return
				}
				if self, isSelf := msg.(domain.SelfIdentity); isSelf {
					h.broadcast(wsEvent{Type: "self_info", Data: map[string]any{
						"id":           self.ID,
						"name":         self.Name,
						"freq_mhz":     self.FreqMHz,
						"bw_khz":       self.BwKHz,
						"sf":           self.SF,
						"cr":           self.CR,
						"tx_power_dbm": self.TxPowerDBm,
					}})
				}
			case msg, ok := <-rawInSub:
				if !ok {
					return
				}
				h.broadcastRawFrame("in", msg)
			case msg, ok := <-rawOutSub:
				if !ok {
					return
				}
				h.broadcastRawFrame("out", msg)
			}
		}
	}()
}

// broadcastRawFrame feeds the wire tap events, letting browser clients watch
// raw device traffic for debugging.
func (h *Hub) broadcastRawFrame(direction string, msg any) {
	frame, ok := msg.(events.RawFrame)
	if !ok {
		return
	}
	h.broadcast(wsEvent{Type: "raw_frame", Data: map[string]any{
		"direction": direction,
		"hex":       frame.Hex,
		"len":       frame.Len,
	}})
}

func (h *Hub) broadcast(ev wsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)

		return
	}

	client := &wsClient{conn: conn, send: make(chan wsEvent, wsSendBuffer)}
	s.hub.register(client)

	go client.writePump()
	go client.readPump(s.hub)
}

func (c *wsClient) writePump() {
	defer func() { _ = c.conn.Close() }()

	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump discards client frames; the feed is one-way. It exists to detect
// disconnects and answer control frames.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
