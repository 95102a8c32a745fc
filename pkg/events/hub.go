package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
)

const (
	// writeWait is the deadline for a single outbound frame
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the
	// read loop gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound control messages; clients only
	// send small subscribe/unsubscribe/ping frames.
	maxMessageSize = 512
)

// clientMessage is the frame clients send to manage their subscriptions
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// Hub upgrades /ws connections and bridges them to the broker
type Hub struct {
	broker   *Broker
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates a hub on top of the broker. checkOrigin decides which
// browser origins may connect; nil allows every origin.
func NewHub(broker *Broker, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: log.WithComponent("events"),
	}
}

// ServeWS handles one event-hub connection for its whole lifetime
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	metrics.EventSubscribers.Inc()
	defer metrics.EventSubscribers.Dec()

	sub := NewSubscriber()
	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

// readLoop consumes subscription commands until the connection dies.
// It is the only goroutine that triggers Drop, so enqueue never races
// with the subscriber channel closing.
func (h *Hub) readLoop(conn *websocket.Conn, sub Subscriber) {
	defer h.broker.Drop(sub)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Event connection closed unexpectedly")
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			if msg.SessionID != "" {
				h.broker.Subscribe(sub, msg.SessionID)
			}
		case "unsubscribe":
			if msg.SessionID != "" {
				h.broker.Unsubscribe(sub, msg.SessionID)
			}
		case "ping":
			h.enqueue(sub, map[string]string{"type": "pong"})
		default:
			// Unknown frames are answered, not fatal; the client may
			// speak a newer protocol revision.
			h.enqueue(sub, map[string]string{
				"type":  "error",
				"error": "unknown message type",
			})
		}
	}
}

// writeLoop is the connection's only writer. It forwards broker events
// and keeps the connection alive with protocol-level pings.
func (h *Hub) writeLoop(conn *websocket.Conn, sub Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(event.Payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) enqueue(sub Subscriber, payload any) {
	select {
	case sub <- &Event{Payload: payload, Timestamp: time.Now()}:
	default:
		metrics.EventsDroppedTotal.Inc()
	}
}
