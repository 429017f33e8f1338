package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// WebSocket event types and topics
const (
	EventTypeSystem = "system"
	EventTypeTask   = "task"
	EventTypeBlock  = "block"
	EventTypeError  = "error"

	// TopicTasks carries every task event. A single task's events are also
	// sent on TaskTopic(id).
	TopicTasks  = "prover.tasks"
	TopicBlocks = "bitcoin.blocks"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// TaskTopic is the topic carrying events of one task
func TaskTopic(id string) string {
	return TopicTasks + "." + id
}

// WebSocketManager manages WebSocket connections and broadcasts
type WebSocketManager struct {
	clients    map[*websocket.Conn]*WebSocketClient
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	logger     log.Logger
	mutex      sync.RWMutex
}

// WebSocketClient represents a WebSocket client connection
type WebSocketClient struct {
	conn     *websocket.Conn
	send     chan []byte
	manager  *WebSocketManager
	clientID string
	topics   map[string]bool
	mutex    sync.RWMutex
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Action    string `json:"action"`
	Topic     string `json:"topic,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(logger log.Logger) *WebSocketManager {
	if logger == nil {
		logger = log.Root()
	}
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]*WebSocketClient),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start runs the manager until ctx is cancelled, after which every client
// is disconnected
func (m *WebSocketManager) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *WebSocketManager) run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			m.mutex.Lock()
			for conn, client := range m.clients {
				delete(m.clients, conn)
				close(client.send)
			}
			m.mutex.Unlock()
			return

		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client.conn] = client
			m.mutex.Unlock()
			m.logger.Debug("WebSocket client connected", "client", client.clientID)

			client.sendMessage(NewWebSocketResponse(EventTypeSystem, "connected", map[string]interface{}{
				"client_id": client.clientID,
				"message":   "Connected to " + serviceName,
			}))

		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client.conn]; ok {
				delete(m.clients, client.conn)
				close(client.send)
				m.logger.Debug("WebSocket client disconnected", "client", client.clientID)
			}
			m.mutex.Unlock()
		}
	}
}

// HandleWebSocket handles WebSocket connection upgrades
func (m *WebSocketManager) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = generateClientID()
	}

	client := &WebSocketClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		manager:  m,
		clientID: clientID,
		topics:   make(map[string]bool),
	}

	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.manager.logger.Debug("WebSocket read failed", "client", c.clientID, "err", err)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(data, &message); err != nil {
			c.sendMessage(NewWebSocketResponse(EventTypeError, "invalid_message", map[string]interface{}{
				"message": err.Error(),
			}))
			continue
		}
		c.handleMessage(&message)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.manager.logger.Debug("WebSocket write failed", "client", c.clientID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(message *WebSocketMessage) {
	var response *WebSocketResponse

	switch message.Action {
	case "subscribe", "unsubscribe":
		if message.Topic == "" {
			response = NewWebSocketResponse(EventTypeError, "missing_topic", map[string]interface{}{
				"message": "topic is required",
			})
			break
		}
		c.mutex.Lock()
		if message.Action == "subscribe" {
			c.topics[message.Topic] = true
		} else {
			delete(c.topics, message.Topic)
		}
		c.mutex.Unlock()
		response = NewWebSocketResponse(EventTypeSystem, message.Action+"d", map[string]interface{}{
			"topic": message.Topic,
		})

	case "ping":
		response = NewWebSocketResponse(EventTypeSystem, "pong", nil)

	default:
		response = NewWebSocketResponse(EventTypeError, "unknown_action", map[string]interface{}{
			"message": "Unknown action: " + message.Action,
		})
	}

	response.RequestID = message.RequestID
	c.sendMessage(response)
}

func (c *WebSocketClient) subscribed(topic string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.topics[topic]
}

// sendMessage queues a message for a client that is still registered
func (c *WebSocketClient) sendMessage(message *WebSocketResponse) {
	data, err := json.Marshal(message)
	if err != nil {
		c.manager.logger.Error("WebSocket message marshal failed", "err", err)
		return
	}

	c.manager.mutex.RLock()
	defer c.manager.mutex.RUnlock()
	if _, ok := c.manager.clients[c.conn]; ok {
		c.trySend(data)
	}
}

// trySend never blocks; a client that cannot keep up loses messages.
// Callers hold the manager's read lock.
func (c *WebSocketClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		c.manager.logger.Warn("WebSocket client too slow, dropping message", "client", c.clientID)
	}
}

// BroadcastToTopic broadcasts a message to all clients subscribed to a topic
func (m *WebSocketManager) BroadcastToTopic(topic, eventType, event string, data interface{}) {
	messageBytes, err := json.Marshal(NewWebSocketResponse(eventType, event, data))
	if err != nil {
		m.logger.Error("WebSocket broadcast marshal failed", "err", err)
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, client := range m.clients {
		if client.subscribed(topic) {
			client.trySend(messageBytes)
		}
	}
}

// GetClientCount returns the number of connected clients
func (m *WebSocketManager) GetClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// GetTopicSubscribers returns the number of subscribers for a topic
func (m *WebSocketManager) GetTopicSubscribers(topic string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	count := 0
	for _, client := range m.clients {
		if client.subscribed(topic) {
			count++
		}
	}
	return count
}

func generateClientID() string {
	return "client_" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
