package progress

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Event is the message sent to WebSocket clients.
type Event struct {
	Type         string                 `json:"type"`
	DeploymentID string                 `json:"deployment_id"`
	Status       model.DeploymentStatus `json:"status"`
}

// EventStatus is the type of every status event.
const EventStatus = "deployment.status"

type client struct {
	conn *websocket.Conn
	send chan []byte
	// Empty means every deployment.
	deployment string
}

// Hub broadcasts snapshots to connected WebSocket clients. Clients may
// narrow the stream with ?deployment=<id>. A client that cannot keep up is
// dropped rather than slowing the deployment.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	upgrader websocket.Upgrader
}

// NewHub creates a hub. Browser origins other than localhost must be listed
// in allowedOrigins; requests without an Origin header are accepted.
func NewHub(allowedOrigins ...string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements orchestrator.Observer.
func (h *Hub) Publish(id string, s model.DeploymentStatus) {
	data, err := json.Marshal(Event{Type: EventStatus, DeploymentID: id, Status: s})
	if err != nil {
		util.WithDeployment(id).Warnf("hub: encoding event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.deployment != "" && c.deployment != id {
			continue
		}
		select {
		case c.send <- data:
		default:
			util.WithDeployment(id).Debug("hub: dropping slow client")
			h.remove(c)
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.WithField("remote", r.RemoteAddr).Debugf("hub: upgrade: %v", err)
		return
	}
	c := &client{
		conn:       conn,
		send:       make(chan []byte, 64),
		deployment: r.URL.Query().Get("deployment"),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.remove(c)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client messages and unregisters on disconnect.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.mu.Lock()
		h.remove(c)
		h.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
