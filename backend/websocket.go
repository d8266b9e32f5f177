// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send control
	// messages.
	maxMessageSize = 4 * 1024

	hubIdleTimeout = 5 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types for WebSocket communication
const (
	MsgTypeJoin    = "JOIN"
	MsgTypeState   = "STATE"
	MsgTypeDeleted = "DELETED"
	MsgTypePing    = "PING"
	MsgTypePong    = "PONG"
	MsgTypeError   = "ERROR"
)

// Message is the websocket envelope. The server pushes a STATE message after
// every committed change of the game; clients may send JOIN to ask for the
// current state again.
type Message struct {
	Type            string             `json:"type"`
	GameID          string             `json:"gameId,omitempty"`
	State           *scoring.GameState `json:"state,omitempty"`
	LastAtBatNumber int                `json:"lastAtBatNumber,omitempty"`
	PendingPitches  int                `json:"pendingPitches,omitempty"`
	UpdatedAt       int64              `json:"updatedAt,omitempty"`
	Error           string             `json:"error,omitempty"`
}

func stateMessage(g *scoring.Game) Message {
	state := g.State
	return Message{
		Type:            MsgTypeState,
		GameID:          g.ID,
		State:           &state,
		LastAtBatNumber: g.LastAtBatNumber,
		PendingPitches:  len(g.PendingPitches),
		UpdatedAt:       g.UpdatedAt,
	}
}

type hubRequest struct {
	// Exactly one of join, reply, game and deleted is set.
	join    *wsClient
	reply   *wsClient
	msg     Message
	game    *scoring.Game
	deleted bool
}

// Hub fans the state of one game out to its subscribers.
type Hub struct {
	gameId string

	// Registered clients.
	clients map[*wsClient]bool

	requests   chan hubRequest
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	// Last committed state seen by the hub.
	latest *scoring.Game

	hm *HubManager
}

func newHub(gameId string, hm *HubManager) *Hub {
	return &Hub{
		gameId:     gameId,
		clients:    make(map[*wsClient]bool),
		requests:   make(chan hubRequest, 64), // Buffered so commits never wait on subscribers
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		hm:         hm,
	}
}

func (h *Hub) run() {
	defer close(h.done)
	idleTimer := time.NewTicker(hubIdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.hm.metrics.ClientConnected()
			h.sendState(client)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case req := <-h.requests:
			switch {
			case req.join != nil:
				if h.clients[req.join] {
					h.sendState(req.join)
				}
			case req.reply != nil:
				if h.clients[req.reply] {
					req.reply.sendJSON(req.msg)
				}
			case req.game != nil:
				if h.latest == nil || req.game.UpdatedAt >= h.latest.UpdatedAt {
					h.latest = req.game
				}
				h.broadcast(stateMessage(h.latest))
			case req.deleted:
				h.latest = nil
				h.broadcast(Message{Type: MsgTypeDeleted, GameID: h.gameId})
			}
		case <-idleTimer.C:
			if len(h.clients) == 0 && h.hm.removeHub(h) {
				return
			}
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
	h.hm.metrics.ClientDisconnected()
}

// sendState sends the current state to one client, loading it when the hub
// has not seen a commit yet.
func (h *Hub) sendState(c *wsClient) {
	if h.latest == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		g, err := h.hm.repo.LoadGame(ctx, h.gameId)
		cancel()
		if err != nil {
			if isNotFound(err) {
				c.sendJSON(Message{Type: MsgTypeDeleted, GameID: h.gameId})
				return
			}
			log.Printf("[HUB] Error loading game %s: %v", h.gameId, err)
			c.sendJSON(Message{Type: MsgTypeError, GameID: h.gameId, Error: "Server error loading game"})
			return
		}
		h.latest = g
	}
	c.sendJSON(stateMessage(h.latest))
}

func (h *Hub) broadcast(msg Message) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.drop(client)
		}
	}
}

// HubManager owns one Hub per watched game. It observes committed changes
// and forwards them to the matching hub without blocking.
type HubManager struct {
	mu   sync.Mutex
	hubs map[string]*Hub

	repo     GameRepository
	registry *Registry
	metrics  *Metrics
}

// NewHubManager creates a HubManager. metrics may be nil.
func NewHubManager(repo GameRepository, r *Registry, m *Metrics) *HubManager {
	return &HubManager{
		hubs:     make(map[string]*Hub),
		repo:     repo,
		registry: r,
		metrics:  m,
	}
}

var _ GameObserver = (*HubManager)(nil)

func (hm *HubManager) getHub(gameId string) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hub, ok := hm.hubs[gameId]; ok {
		return hub
	}
	hub := newHub(gameId, hm)
	hm.hubs[gameId] = hub
	go hub.run()
	return hub
}

// removeHub forgets h if it is still the hub of its game.
func (hm *HubManager) removeHub(h *Hub) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.hubs[h.gameId] != h {
		return false
	}
	delete(hm.hubs, h.gameId)
	return true
}

// Len returns the number of active hubs.
func (hm *HubManager) Len() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return len(hm.hubs)
}

func (hm *HubManager) send(gameId string, req hubRequest) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hub, ok := hm.hubs[gameId]
	if !ok {
		return
	}
	select {
	case hub.requests <- req:
	default:
		log.Printf("[HUB] Warning: Hub channel full, dropping update for game %s", gameId)
	}
}

// GameChanged implements GameObserver.
func (hm *HubManager) GameChanged(ctx context.Context, g *scoring.Game) {
	hm.send(g.ID, hubRequest{game: g})
}

// GameDeleted implements GameObserver.
func (hm *HubManager) GameDeleted(ctx context.Context, gameId string) {
	hm.send(gameId, hubRequest{deleted: true})
}

// wsClient is a middleman between the websocket connection and the hub.
type wsClient struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan Message

	userId string
}

// readPump pumps messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[HUB] error: %v", err)
			}
			return
		}

		// The send channel belongs to the hub, so replies go through it too.
		var req hubRequest
		switch msg.Type {
		case MsgTypeJoin:
			req = hubRequest{join: c}
		case MsgTypePing:
			req = hubRequest{reply: c, msg: Message{Type: MsgTypePong}}
		default:
			req = hubRequest{reply: c, msg: Message{Type: MsgTypeError, Error: "Unknown message type"}}
		}
		select {
		case c.hub.requests <- req:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
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

func (c *wsClient) sendJSON(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

// ServeWS subscribes the caller to the state of ?gameId=. The caller needs
// read access to the game.
func ServeWS(hm *HubManager, w http.ResponseWriter, req *http.Request, debugf func(string, ...any)) {
	userId := getUserID(req)

	gameId := req.URL.Query().Get("gameId")
	if gameId == "" || !isValidUUID(gameId) {
		http.Error(w, "Invalid gameId", http.StatusBadRequest)
		return
	}
	if hm.registry.GetGameAccess(req.Context(), userId, gameId) < AccessRead {
		debugf("[HUB] Forbidden: %s subscribing to game %s", maskEmail(userId), gameId)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("[HUB] upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan Message, 256), userId: userId}
	for {
		hub := hm.getHub(gameId)
		client.hub = hub
		select {
		case hub.register <- client:
		case <-hub.done:
			// The hub went idle in between. Get a fresh one.
			continue
		}
		break
	}
	debugf("[HUB] %s subscribed to game %s", maskEmail(userId), gameId)

	go client.writePump()
	go client.readPump()
}
