package main

import (
	"log"
	"sync"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them to lobbies
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	lobbies    *LobbyManager
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Persistence and analytics are nil when running without a DB; auth then
	// only issues guest tokens
	db        *DB
	auth      *Auth
	analytics *Analytics
}

// NewHub creates a Hub. db and analytics may be nil.
func NewHub(cfg Config, db *DB, analytics *Analytics) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		ipConns:    make(map[string]int),
		db:         db,
		analytics:  analytics,
		auth:       NewAuth(db),
	}

	base := LobbyOptions{
		Map:        cfg.Map,
		UpdateRate: cfg.UpdateRate,
		Debug:      cfg.Debug,
		OnFinish:   h.recordMatch,
	}
	if analytics != nil {
		base.Events = analytics
	}
	h.lobbies = NewLobbyManager(base)
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.reportPeers(n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.reportPeers(n)
			// Remove from lobby if in one
			if client.lobbyID != "" {
				h.lobbies.RemoveClient(client.lobbyID, client.memberID)
			}
			h.reportLobbies()
		}
	}
}

func (h *Hub) reportPeers(n int) {
	if h.analytics != nil {
		h.analytics.SetConcurrentPeers(n)
	}
}

func (h *Hub) reportLobbies() {
	if h.analytics != nil {
		h.analytics.SetActiveLobbies(h.lobbies.Count())
	}
}

func (h *Hub) track(evt string, playerID int64, lobbyID string) {
	if h.analytics != nil {
		h.analytics.Track(evt, playerID, lobbyID, nil)
	}
}

// recordMatch persists a finished game. Runs off the lobby lock.
func (h *Hub) recordMatch(res MatchResult) {
	if h.db == nil {
		return
	}
	id, err := h.db.RecordMatch(res)
	if err != nil {
		log.Printf("lobby %s: record match: %v", res.LobbyID, err)
		return
	}
	log.Printf("lobby %s: recorded match %d (%d players)", res.LobbyID, id, len(res.Players))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
