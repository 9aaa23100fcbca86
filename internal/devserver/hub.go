// Package devserver is a local broadcast server for the /api/ws endpoint.
// Every frame a client sends is relayed to all connected clients.
package devserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/zfogg/emoine/internal/store"
	"github.com/zfogg/emoine/pkg/logger"
	"github.com/zfogg/emoine/pkg/metrics"
)

const (
	// Close status and reason sent to every client on shutdown
	shutdownStatus = websocket.StatusServiceRestart
	shutdownReason = "Server is stopping..."
)

// frame is one WebSocket message relayed by the hub
type frame struct {
	typ  websocket.MessageType
	data []byte
}

// Recorder persists relayed frames
type Recorder interface {
	SaveFrame(ctx context.Context, f *store.Frame) error
	RecentFrames(ctx context.Context, limit int) ([]store.Frame, error)
}

// Hub maintains the set of active clients and broadcasts frames to them.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan frame

	connections atomic.Int64
	broadcasts  atomic.Int64
	dropped     atomic.Int64
	startedAt   time.Time

	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// StatsSnapshot is the JSON body of /api/ws/stats
type StatsSnapshot struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	Broadcasts  int64 `json:"broadcasts"`
	Dropped     int64 `json:"dropped"`
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("clients=%d connections=%d broadcasts=%d dropped=%d",
		s.Clients, s.Connections, s.Broadcasts, s.Dropped)
}

// viewerMessage announces the client count after a join or leave
type viewerMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		broadcast:  make(chan frame, 256),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	logger.Debug("Broadcast hub starting")
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case f := <-h.broadcast:
			h.broadcastFrame(f)
		}
	}
}

// Register queues a client for registration. It returns false once the hub
// is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister queues a client for removal
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast queues a frame for delivery to every client
func (h *Hub) Broadcast(typ websocket.MessageType, data []byte) {
	select {
	case h.broadcast <- frame{typ: typ, data: data}:
	case <-h.ctx.Done():
	}
}

// SetRecorder makes the hub store every frame it receives from a client.
// Call it before Run.
func (h *Hub) SetRecorder(r Recorder) {
	h.recorder = r
}

// record stores a frame received from clientID, if a recorder is set
func (h *Hub) record(clientID string, typ websocket.MessageType, data []byte) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, writeWait)
	defer cancel()

	err := h.recorder.SaveFrame(ctx, &store.Frame{
		ClientID: clientID,
		Binary:   typ == websocket.MessageBinary,
		Payload:  data,
	})
	if err != nil {
		logger.Warn("Failed to record frame", "client", clientID, "error", err)
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns a snapshot of hub counters
func (h *Hub) Stats() StatsSnapshot {
	return StatsSnapshot{
		Clients:     h.ClientCount(),
		Connections: h.connections.Load(),
		Broadcasts:  h.broadcasts.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Uptime returns how long the hub has existed
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.connections.Add(1)
	metrics.Get().ServerConnectionsTotal.Inc()
	metrics.Get().ServerClients.Set(float64(count))

	logger.Info("Client connected", "client", client.ID, "remote", client.RemoteAddr, "active", count)
	h.announceViewers(count)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.Get().ServerClients.Set(float64(count))

	logger.Info("Client disconnected", "client", client.ID, "active", count)
	h.announceViewers(count)
}

func (h *Hub) announceViewers(count int) {
	data, err := jsoniter.Marshal(viewerMessage{Type: "viewers", Count: count})
	if err != nil {
		logger.Error("Failed to encode viewer count", "error", err)
		return
	}
	h.broadcastFrame(frame{typ: websocket.MessageText, data: data})
}

func (h *Hub) broadcastFrame(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcasts.Add(1)
	metrics.Get().ServerBroadcastsTotal.Inc()

	for client := range h.clients {
		if !client.push(f) {
			h.dropped.Add(1)
			metrics.Get().ServerDroppedTotal.Inc()
			logger.Warn("Client send buffer full, dropping frame", "client", client.ID)
		}
	}
}

// Shutdown closes every client with a service restart status and stops the
// hub. It returns when all clients are closed or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	logger.Info("Stopping broadcast hub", "clients", h.ClientCount())
	h.cancel()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	closing := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		closing = append(closing, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	// Clients whose registration never reached the loop
	for {
		select {
		case client := <-h.register:
			closing = append(closing, client)
			continue
		default:
		}
		break
	}

	metrics.Get().ServerClients.Set(0)

	var wg sync.WaitGroup
	for _, client := range closing {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Close(shutdownStatus, shutdownReason)
		}(client)
	}
	wg.Wait()

	logger.Info("Closed connections during shutdown", "count", len(closing))
}
