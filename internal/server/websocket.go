package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shipyard/shipyard-server-go/internal/config"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Websocket message types.
const (
	MessageView   = "view"
	MessageAction = "action"
	MessageError  = "error"
	MessagePing   = "ping"
	MessagePong   = "pong"
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type    string             `json:"type"`
	GameID  string             `json:"game_id,omitempty"`
	Action  *game.PlayerAction `json:"action,omitempty"`
	View    *game.PlayerView   `json:"view,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

// Client is one authenticated websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	gameID   string
	playerID string

	mu          sync.Mutex
	lastVersion uint64
	closed      bool
}

// Hub pushes each seated player's view whenever their game changes.
type Hub struct {
	engine   GameEngine
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	pendingMu sync.Mutex
	pending   map[string]bool
	wake      chan struct{}
}

// NewHub creates a hub serving views from engine.
func NewHub(engine GameEngine, cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		engine:  engine,
		logger:  logger,
		clients: make(map[string]map[*Client]bool),
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := slices.Clone(cfg.AllowedOrigins)
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		}
	}
	return h
}

// Attach subscribes the hub to state changes on bus and returns the handle.
func (h *Hub) Attach(bus *rules.EventBus) int {
	return bus.SubscribeTyped(rules.EventStateChanged, func(ev rules.Event) {
		h.Notify(ev.GameID)
	})
}

// Notify marks gameID as changed. Bursts of changes collapse into one push.
func (h *Hub) Notify(gameID string) {
	h.pendingMu.Lock()
	h.pending[gameID] = true
	h.pendingMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run delivers pushes until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.wake:
			h.pendingMu.Lock()
			games := make([]string, 0, len(h.pending))
			for id := range h.pending {
				games = append(games, id)
			}
			clear(h.pending)
			h.pendingMu.Unlock()

			for _, id := range games {
				h.push(ctx, id)
			}
		}
	}
}

func (h *Hub) push(ctx context.Context, gameID string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[gameID]))
	for c := range h.clients[gameID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.pushView(ctx); err != nil {
			h.logger.Debug("failed to push view",
				zap.String("game_id", gameID),
				zap.String("player_id", c.playerID),
				zap.Error(err))
		}
	}
}

// ConnectionCount returns the number of open connections for gameID.
func (h *Hub) ConnectionCount(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[gameID])
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.gameID] == nil {
		h.clients[c.gameID] = make(map[*Client]bool)
	}
	h.clients[c.gameID][c] = true
	h.logger.Info("websocket client registered",
		zap.String("game_id", c.gameID),
		zap.String("player_id", c.playerID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.clients[c.gameID]; ok && clients[c] {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, c.gameID)
		}
		h.logger.Info("websocket client unregistered",
			zap.String("game_id", c.gameID),
			zap.String("player_id", c.playerID))
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Client
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

// ServeWS upgrades an authenticated request to a websocket. Credentials come
// from the player_id and token query parameters.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]
	playerID := r.URL.Query().Get("player_id")
	token := r.URL.Query().Get("token")
	if gameID == "" || playerID == "" {
		http.Error(w, "game and player are required", http.StatusBadRequest)
		return
	}

	if err := h.engine.Authenticate(r.Context(), gameID, playerID, token); err != nil {
		switch {
		case errors.Is(err, game.ErrGameNotFound):
			http.Error(w, "game not found", http.StatusNotFound)
		default:
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		gameID:   gameID,
		playerID: playerID,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	if err := c.pushView(context.Background()); err != nil {
		h.logger.Debug("failed to send initial view", zap.String("game_id", gameID), zap.Error(err))
	}
}

// pushView sends the client's current view if it is newer than the last one sent.
func (c *Client) pushView(ctx context.Context) error {
	view, err := c.hub.engine.PlayerView(ctx, c.gameID, c.playerID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if view.State.Version <= c.lastVersion {
		c.mu.Unlock()
		return nil
	}
	c.lastVersion = view.State.Version
	c.mu.Unlock()

	return c.enqueue(WSMessage{Type: MessageView, GameID: c.gameID, View: view})
}

var (
	errSlowClient   = errors.New("client send buffer is full")
	errClientClosed = errors.New("client is closed")
)

func (c *Client) enqueue(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		go c.hub.unregister(c)
		return errSlowClient
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", zap.String("player_id", c.playerID), zap.Error(err))
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Type {
	case MessagePing:
		_ = c.enqueue(WSMessage{Type: MessagePong})
	case MessageAction:
		if msg.Action == nil {
			_ = c.enqueue(WSMessage{Type: MessageError, Code: rules.CodeMalformedAction, Message: "action is required"})
			return
		}
		action := *msg.Action
		if action.PlayerID != "" && action.PlayerID != c.playerID {
			_ = c.enqueue(WSMessage{Type: MessageError, Code: rules.CodeUnknownPlayer, Message: "cannot act for another player"})
			return
		}
		action.PlayerID = c.playerID

		if _, err := c.hub.engine.SubmitAction(context.Background(), c.gameID, action); err != nil {
			_ = c.enqueue(errorMessage(err))
		}
	default:
		_ = c.enqueue(WSMessage{Type: MessageError, Code: rules.CodeMalformedAction, Message: "unknown message type " + msg.Type})
	}
}

func errorMessage(err error) WSMessage {
	var validation *rules.ValidationError
	if errors.As(err, &validation) {
		return WSMessage{Type: MessageError, Code: validation.Code, Message: validation.Reason}
	}
	return WSMessage{Type: MessageError, Message: err.Error()}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
