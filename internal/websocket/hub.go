package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dubstudio/api/internal/model"
	"github.com/gofiber/contrib/websocket"
)

// Client represents a WebSocket client. Send is closed only by Unregister;
// a client dropped for being slow is stopped through done instead.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a client for jobID with a send buffer of the given size.
func NewClient(jobID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]bool),
		register:  make(chan *Client),
		broadcast: make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client registered for job %s", client.JobID)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[msg.JobID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.Send <- msg.Message:
		default:
			// slow consumer: drop it, its connection goroutines may still
			// hold Send
			h.remove(client)
			client.stop()
			log.Printf("[WS] Dropped slow client for job %s", msg.JobID)
		}
	}
}

// remove deletes client from the registry. Callers hold h.mu.
func (h *Hub) remove(client *Client) bool {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return false
	}
	if _, ok := clients[client]; !ok {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
	return true
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client. It returns once the client is gone from the
// registry.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.remove(client) {
		close(client.Send)
	}
	h.mu.Unlock()
	client.stop()
	log.Printf("[WS] Client unregistered from job %s", client.JobID)
}

// Subscribers returns the number of clients watching a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// NotifyStatus pushes a job update to its subscribers. It never blocks the
// caller; updates are dropped when the broadcast buffer is full.
func (h *Hub) NotifyStatus(job model.Job) {
	msgType := model.WSMessageTypeProgress
	switch job.Status {
	case model.JobStatusCompleted:
		msgType = model.WSMessageTypeComplete
	case model.JobStatusError:
		msgType = model.WSMessageTypeError
	}

	msg := model.WSStatusMessage{
		Type:     msgType,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.ErrorMessage(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Failed to marshal status message: %v", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: job.ID, Message: data}:
	default:
		log.Printf("[WS] Broadcast buffer full, dropping update for job %s", job.ID)
	}
}

// HandleConnection handles a WebSocket connection. The current snapshot, when
// present, is sent before live updates.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, snapshot *model.Job) {
	client := NewClient(jobID, c, 256)

	h.Register(client)
	defer h.Unregister(client)

	if snapshot != nil {
		data, err := json.Marshal(model.WSStatusMessage{
			Type:     model.WSMessageTypeProgress,
			JobID:    snapshot.ID,
			Status:   snapshot.Status,
			Progress: snapshot.Progress,
			Error:    snapshot.ErrorMessage(),
		})
		if err == nil {
			client.Send <- data
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.done:
				return

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Connection error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}
