package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"watchtower/metrics"
	"watchtower/notify"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize  = 512
	sendChannelSize = 256
	broadcastWait   = time.Second
)

// StreamMessage is one frame sent to stream subscribers
type StreamMessage struct {
	Type      string              `json:"type"`
	Data      notify.Notification `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

type outbound struct {
	entity  string
	payload []byte
}

// client is one websocket subscriber. entities is nil when the client
// wants everything.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	entities map[string]bool
	user     string
}

func (c *client) wants(entity string) bool {
	return c.entities == nil || c.entities[entity]
}

// Hub fans alert and incident notifications out to websocket clients
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *zap.SugaredLogger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// CORS is enforced by corsMiddleware before the upgrade
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHub creates a hub. Start must be called before clients connect.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, sendChannelSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop until Stop or the parent context ends. It must
// be called exactly once.
func (h *Hub) Start() {
	defer close(h.done)
	h.logger.Info("Stream hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				_ = c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			h.logger.Info("Stream hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("Stream client registered", "user", c.user, "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("Stream client unregistered", "user", c.user, "total_clients", n)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.entity) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// a slow client must not stall the others
					metrics.NotificationsDropped.WithLabelValues("stream").Inc()
					go h.drop(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
	_ = c.conn.Close()
}

// Notify implements notify.Notifier. It never blocks longer than
// broadcastWait and drops the message when the hub is saturated.
func (h *Hub) Notify(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(StreamMessage{Type: string(n.Kind), Data: n, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	timer := time.NewTimer(broadcastWait)
	defer timer.Stop()

	select {
	case h.broadcast <- outbound{entity: n.Kind.Entity(), payload: payload}:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		metrics.NotificationsDropped.WithLabelValues("stream").Inc()
		h.logger.Warnw("Stream broadcast timed out", "kind", n.Kind, "entity_id", n.EntityID)
		return nil
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (c *client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// clients never send data; reading detects disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Stream client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one frame per notification so clients can parse each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseEntities reads ?entities=alerts,incidents; empty means all
func parseEntities(r *http.Request) map[string]bool {
	list := queryList(r, "entities")
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, e := range list {
		out[strings.ToLower(e)] = true
	}
	return out
}

// stream godoc
//
//	@Summary		Live alert and incident notifications
//	@Description	Upgrades to a websocket. Each frame is a StreamMessage.
//	@Tags			stream
//	@Param			entities	query	string	false	"alerts, incidents or both (default)"
//	@Success		101
//	@Security		BearerAuth
//	@Router			/stream [get]
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		a.logger.Warnw("Stream upgrade failed", "error", err, "client_ip", a.clientIP(r))
		return
	}

	user, _ := GetUsername(r.Context())
	c := &client{
		hub:      a.hub,
		conn:     conn,
		send:     make(chan []byte, sendChannelSize),
		entities: parseEntities(r),
		user:     user,
	}
	select {
	case a.hub.register <- c:
	case <-a.hub.ctx.Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
