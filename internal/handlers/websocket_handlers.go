package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

const eventWriteTimeout = 5 * time.Second

// OrderEvent is the message pushed to connected operator dashboards.
type OrderEvent struct {
	OrderID string               `json:"order_id"`
	Status  entities.OrderStatus `json:"status"`
	At      time.Time            `json:"at"`
}

// EventsHub broadcasts order lifecycle events to websocket subscribers. It
// implements the order service's event publisher; Publish never blocks the
// order path, a slow or dead subscriber is dropped.
type EventsHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	// writeMu serializes broadcasts, the websocket library allows only one
	// concurrent writer per connection.
	writeMu sync.Mutex
}

func NewEventsHub(logger *slog.Logger) *EventsHub {
	return &EventsHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *EventsHub) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/orders", h.HandleConnection)
}

func (h *EventsHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("New order-events subscriber", "remote", conn.RemoteAddr().String())

	// Keep connection open and handle disconnection.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.remove(conn)
			break
		}
	}
}

// Publish fans the event out to every subscriber. Called inline from the
// order lifecycle, so the actual writes happen in a spawned goroutine.
func (h *EventsHub) Publish(orderID string, status entities.OrderStatus) {
	event := OrderEvent{OrderID: orderID, Status: status, At: time.Now()}

	go func() {
		h.mu.RLock()
		conns := make([]*websocket.Conn, 0, len(h.clients))
		for conn := range h.clients {
			conns = append(conns, conn)
		}
		h.mu.RUnlock()

		h.writeMu.Lock()
		defer h.writeMu.Unlock()

		for _, conn := range conns {
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Error("Dropping order-events subscriber", "error", err)
				h.remove(conn)
			}
		}
	}()
}

func (h *EventsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
