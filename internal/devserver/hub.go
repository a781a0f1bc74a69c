package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

const (
	wsMaxPayloadBytes = 64 << 10
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64
)

// Hub tracks open push sockets and fans frames out to them.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newHub(log *zap.Logger, now func() time.Time, checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		log: log,
		now: now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*wsClient),
	}
}

// Len returns the number of open sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues frame on every socket and returns how many accepted
// it. Sockets whose buffer is full miss the frame.
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.clients {
		select {
		case c.send <- frame:
			sent++
		default:
			h.log.Warn("Push socket buffer full, dropping frame", zap.String("client_id", c.id))
		}
	}
	return sent
}

// CloseAll closes every socket with code. The sockets' read loops then
// unregister them.
func (h *Hub) CloseAll(code int) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(wsWriteWait)
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline) //nolint:errcheck
		_ = c.conn.Close()
	}
}

// serve upgrades the request and runs the socket until it closes.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsClient{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	hello, _ := push.NewFrame(push.TypeConnection, nil, h.now())
	hello.Message = "connected"
	if raw, err := hello.Encode(); err == nil {
		c.send <- raw
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("Push socket opened", zap.String("client_id", c.id), zap.String("user_id", userID))

	defer h.remove(c)
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.cancel()
	close(c.send)
	_ = c.conn.Close()
	h.log.Info("Push socket closed", zap.String("client_id", c.id))
}

func (h *Hub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		f, err := push.ParseFrame(data)
		if err != nil {
			h.log.Debug("Ignoring malformed client frame", zap.String("client_id", c.id), zap.Error(err))
			continue
		}
		if f.Type != push.TypePing {
			continue
		}

		pong, _ := push.NewFrame(push.TypePong, nil, h.now())
		raw, err := pong.Encode()
		if err != nil {
			continue
		}
		select {
		case c.send <- raw:
		default:
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
