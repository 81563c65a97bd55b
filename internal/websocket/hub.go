// Package websocket streams the live leaderboard to connected viewers.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jigaku-backend/internal/metrics"
	"jigaku-backend/internal/models"
	"jigaku-backend/internal/roster"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	loadWait   = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Roster is the part of the roster cache the hub drives.
type Roster interface {
	EnsureLoaded(ctx context.Context, withPresence bool) error
	StartListening() error
	StopListening()
	Watch() (<-chan roster.State, func())
}

type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// Hub keeps the roster's presence listener alive exactly while at least one
// viewer is connected.
type Hub struct {
	roster  Roster
	tokens  TokenParser
	logger  *zap.Logger
	metrics *metrics.Metrics

	// lifeMu serializes activation and deactivation.
	lifeMu    sync.Mutex
	stopWatch func()
	watchDone chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte
}

type client struct {
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewHub(r Roster, tokens TokenParser, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		roster:  r,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.tokens.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	first := len(h.clients) == 1
	last := h.last
	h.mu.Unlock()

	h.metrics.ViewerJoined()
	h.logger.Debug("leaderboard viewer connected", zap.String("user_id", c.userID.String()))

	if first {
		h.activate()
		return
	}
	if last != nil {
		deliver(c, last)
	}
}

func (h *Hub) unregister(c *client) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	empty := len(h.clients) == 0
	h.mu.Unlock()

	c.close()
	c.conn.Close()
	h.metrics.ViewerLeft()
	h.logger.Debug("leaderboard viewer disconnected", zap.String("user_id", c.userID.String()))

	if empty {
		h.deactivate()
	}
}

// activate must be called with lifeMu held.
func (h *Hub) activate() {
	ctx, cancel := context.WithTimeout(context.Background(), loadWait)
	defer cancel()
	if err := h.roster.EnsureLoaded(ctx, true); err != nil {
		h.logger.Warn("leaderboard load failed", zap.Error(err))
	}
	if err := h.roster.StartListening(); err != nil {
		h.logger.Warn("failed to start presence listener", zap.Error(err))
	}

	states, stop := h.roster.Watch()
	done := make(chan struct{})
	h.stopWatch = stop
	h.watchDone = done
	go h.broadcastStates(states, done)

	h.logger.Info("leaderboard live updates started")
}

// deactivate must be called with lifeMu held.
func (h *Hub) deactivate() {
	if h.stopWatch != nil {
		h.stopWatch()
		<-h.watchDone
		h.stopWatch = nil
		h.watchDone = nil
	}
	h.roster.StopListening()

	h.mu.Lock()
	h.last = nil
	h.mu.Unlock()

	h.logger.Info("leaderboard live updates stopped")
}

func (h *Hub) broadcastStates(states <-chan roster.State, done chan struct{}) {
	defer close(done)
	for st := range states {
		data, err := json.Marshal(models.WSMessage{Type: "leaderboard", Payload: st.Leaderboard()})
		if err != nil {
			h.logger.Error("failed to encode leaderboard", zap.Error(err))
			continue
		}

		h.mu.Lock()
		h.last = data
		for c := range h.clients {
			deliver(c, data)
		}
		h.mu.Unlock()
	}
}

// deliver replaces any undelivered frame with data.
func deliver(c *client, data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
