// Package obswire fans Event Sink events out to websocket observers. It
// owns no orchestration logic — it is a thin read-only wrapper around
// eventsink.Sink.Subscribe, built the same way the teacher's canvas host
// tracks a set of live reload connections and broadcasts to all of them.
package obswire

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

const writeDeadline = 2 * time.Second

// Hub upgrades incoming HTTP connections to websockets and writes every
// event a sink publishes to each connected client as one JSON frame per
// message.
type Hub struct {
	sink     *eventsink.Sink
	clientID string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub subscribes to sink under clientID and returns a Hub ready to
// serve websocket upgrades. clientID should be unique per Hub instance
// (e.g. "obswire") since a later Subscribe under the same id elsewhere
// would silently replace this one.
func NewHub(sink *eventsink.Sink, clientID string) *Hub {
	h := &Hub{
		sink:     sink,
		clientID: clientID,
		clients:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	sink.Subscribe(clientID, h.broadcast)
	return h
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects (observers never send anything meaningful back, so
// the read loop only exists to detect the close).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.addClient(conn)
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close unsubscribes from the sink and closes every connected client.
func (h *Hub) Close() {
	h.sink.Unsubscribe(h.clientID)
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
	for _, conn := range clients {
		_ = conn.Close()
	}
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) broadcast(e convo.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.RUnlock()

	for _, conn := range clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.removeClient(conn)
		}
	}
}
