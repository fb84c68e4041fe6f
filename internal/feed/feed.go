// Package feed broadcasts flight summary snapshots to websocket clients.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saviobatista/mavrelay/internal/types"
)

const (
	writeTimeout = 5 * time.Second
	// summaries queued per client before it is dropped as too slow
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// client is one websocket connection. Only its write pump writes to conn.
type client struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// Hub tracks connected websocket clients and the latest snapshot per vehicle
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	latest  map[string]types.FlightSummary
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		latest:  make(map[string]types.FlightSummary),
	}
}

// Handler serves /ws for live summaries and /summaries for the latest snapshot of each vehicle
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/summaries", h.handleSummaries)
	return mux
}

// ListenAndServe serves the hub on addr until ctx is cancelled
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve feed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close()
		return server.Shutdown(shutdownCtx)
	}
}

// Broadcast records summaries as the latest snapshots and queues each one for
// every client. It never waits on the network: a client whose queue is full
// is dropped.
func (h *Hub) Broadcast(summaries []types.FlightSummary) {
	payloads := make([][]byte, 0, len(summaries))
	for i := range summaries {
		data, err := json.Marshal(summaries[i])
		if err != nil {
			log.Printf("Warning: failed to encode summary: %v", err)
			continue
		}
		payloads = append(payloads, data)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, summary := range summaries {
		h.latest[summary.VehicleID] = summary
	}

clients:
	for c := range h.clients {
		for _, data := range payloads {
			select {
			case c.send <- data:
			default:
				log.Printf("Warning: dropping slow feed client %s", c.addr)
				h.removeLocked(c)
				continue clients
			}
		}
	}
}

// removeLocked unregisters c and ends its write pump. Callers hold h.mu.
func (h *Hub) removeLocked(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
	}
}

// handleWS upgrades the request and registers the client. The latest snapshots are sent on connect.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	c := &client{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		send: make(chan []byte, sendBuffer+len(h.latest)),
	}
	for _, summary := range h.latest {
		data, err := json.Marshal(summary)
		if err != nil {
			continue
		}
		c.send <- data
	}
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// writePump sends queued summaries until the client is removed, then closes
// the connection
func (h *Hub) writePump(c *client) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			log.Printf("Warning: failed to close websocket: %v", err)
		}
	}()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Warning: dropping feed client %s: %v", c.addr, err)
			h.remove(c)
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// readPump detects disconnects. Clients only listen.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	summaries := make([]types.FlightSummary, 0, len(h.latest))
	for _, summary := range h.latest {
		summaries = append(summaries, summary)
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		log.Printf("Warning: failed to encode summaries: %v", err)
	}
}
