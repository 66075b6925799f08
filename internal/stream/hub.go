package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/airspacelab/vectorsim/pkg/events"
)

// Event types relayed to websocket clients unless a client narrows its
// subscription.
var defaultStreamTypes = []string{
	events.EnvReset,
	events.EnvStep,
	events.SafetyViolation,
	events.TrainingIteration,
	events.TrainingEpisodeEnd,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected websocket consumer.
type Client struct {
	ID   uuid.UUID
	Conn *websocket.Conn

	Send chan []byte
	Done chan struct{}

	mu     sync.RWMutex
	topics map[string]bool // empty means all relayed types
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.topics) == 0 {
		return true
	}
	return c.topics[eventType]
}

// Hub relays bus events to websocket clients. Slow clients are dropped
// rather than allowed to stall the broadcast path.
type Hub struct {
	bus *events.Bus

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	subIDs  []uuid.UUID
	closed  bool
}

func NewHub(bus *events.Bus) *Hub {
	h := &Hub{
		bus:     bus,
		clients: make(map[uuid.UUID]*Client),
	}
	if bus != nil {
		for _, t := range defaultStreamTypes {
			h.subIDs = append(h.subIDs, bus.Subscribe(t, h.broadcast))
		}
	}
	return h
}

// HandleWS upgrades the request and services the client until it
// disconnects.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:     uuid.New(),
		Conn:   conn,
		Send:   make(chan []byte, 64),
		Done:   make(chan struct{}),
		topics: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.ID] = client
	h.mu.Unlock()

	go h.readPump(client)
	go h.writePump(client)
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		h.mu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(client, message)
	}
}

func (h *Hub) writePump(client *Client) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

type wsMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

func (h *Hub) handleMessage(client *Client, message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "subscribe":
		client.mu.Lock()
		for _, t := range msg.Topics {
			client.topics[t] = true
		}
		client.mu.Unlock()
	case "unsubscribe":
		client.mu.Lock()
		for _, t := range msg.Topics {
			delete(client.topics, t)
		}
		client.mu.Unlock()
	}
}

func (h *Hub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("stream: marshal event %s: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// client buffer full, skip this event for them
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown detaches from the bus and closes all client connections.
// Safe to call more than once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uuid.UUID]*Client)
	subIDs := h.subIDs
	h.subIDs = nil
	h.mu.Unlock()

	if h.bus != nil {
		for _, id := range subIDs {
			h.bus.Unsubscribe(id)
		}
	}
	for _, c := range clients {
		c.Conn.Close()
	}
}
