package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageHandler answers RPC messages arriving over HTTP or WebSocket.
type MessageHandler interface {
	Handle(ctx context.Context, msg types.Message) types.Response
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	// mu guards clients and serializes writes; a gorilla conn allows one
	// writer at a time.
	mu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run serves register, unregister and broadcast requests until Stop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// the read pump unregisters a dead client
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends v, JSON-encoded, to every client. A full queue drops the
// message.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("Hub: Failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Warn().Msg("Hub: Broadcast channel is full, dropping message.")
	}
}

// BroadcastState 广播代理状态变更
func (h *Hub) BroadcastState(st types.ProxyState) {
	logger.Debug().Bool("enabled", st.Enabled).Msg("Hub: Broadcasting state update to all clients.")
	h.Broadcast(WebSocketMessage{Type: "state_update", Data: st})
}

func (h *Hub) reply(conn *websocket.Conn, v interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// newUpgrader builds the socket upgrader; checkOrigin refuses handshakes
// from pages that may not drive the agent.
func newUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// ServeWs upgrades the request and answers RPC messages sent over the
// socket. Replies are wrapped as {"type":"response","data":...}.
func ServeWs(hub *Hub, handler MessageHandler, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// The read pump runs on the request goroutine so r.Context() stays
	// valid until the client goes away.
	defer func() {
		select {
		case hub.unregister <- conn:
		case <-hub.done:
		}
	}()
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Unexpected websocket close error")
			}
			return
		}
		var resp types.Response
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			resp = types.Response{Success: false, Error: "invalid message: " + err.Error()}
		} else {
			resp = handler.Handle(r.Context(), msg)
		}
		if err := hub.reply(conn, WebSocketMessage{Type: "response", Data: resp}); err != nil {
			logger.Warn().Err(err).Msg("Failed to reply on websocket.")
			return
		}
	}
}
