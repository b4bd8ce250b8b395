package recorder

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsClientQueue  = 16
)

// StateMessage is the JSON message pushed to WebSocket clients.
type StateMessage struct {
	Method string `json:"method"`
	Value  any    `json:"value"`
}

// WebSocketNotifier is an Observer that broadcasts state changes to
// WebSocket clients. Serve it over HTTP; each client receives the current
// state on connect. Slow clients lose messages rather than stall others.
type WebSocketNotifier struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	recording bool
	state     WritingState
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWebSocketNotifier creates a notifier with no clients.
func NewWebSocketNotifier(log *logrus.Entry) *WebSocketNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebSocketNotifier{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.WithField("stage", "ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// MarkRecordingState implements Observer.
func (n *WebSocketNotifier) MarkRecordingState(recording bool) {
	n.mu.Lock()
	n.recording = recording
	n.mu.Unlock()
	n.broadcast(StateMessage{Method: "mark_recording_state", Value: recording})
}

// MarkWritingState implements Observer.
func (n *WebSocketNotifier) MarkWritingState(state WritingState) {
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
	n.broadcast(StateMessage{Method: "mark_writing_state", Value: state.String()})
}

// Clients returns the number of connected clients.
func (n *WebSocketNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// ServeHTTP upgrades the request and keeps the client until it leaves.
func (n *WebSocketNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsClientQueue)}

	n.mu.Lock()
	hello := []StateMessage{
		{Method: "mark_recording_state", Value: n.recording},
		{Method: "mark_writing_state", Value: n.state.String()},
	}
	for _, msg := range hello {
		if data, err := json.Marshal(msg); err == nil {
			c.send <- data
		}
	}
	n.clients[c] = struct{}{}
	n.mu.Unlock()

	go n.writeLoop(c)
	n.readLoop(c)
}

func (n *WebSocketNotifier) broadcast(msg StateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		n.log.WithError(err).Error("encode state message")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.clients {
		select {
		case c.send <- data:
		default:
			n.log.Debug("websocket client queue full, dropping message")
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (n *WebSocketNotifier) readLoop(c *wsClient) {
	defer n.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (n *WebSocketNotifier) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			n.log.WithError(err).Debug("websocket write failed")
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func (n *WebSocketNotifier) remove(c *wsClient) {
	n.mu.Lock()
	if _, ok := n.clients[c]; ok {
		delete(n.clients, c)
		close(c.send)
	}
	n.mu.Unlock()
}

// Close disconnects every client.
func (n *WebSocketNotifier) Close() {
	n.mu.Lock()
	for c := range n.clients {
		delete(n.clients, c)
		close(c.send)
	}
	n.mu.Unlock()
}
