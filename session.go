package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"snake-server/rules"
)

const maxLobbies = 100

// SessionIdleTimeout is how long an empty lobby survives before removal.
var SessionIdleTimeout = 30 * time.Second

var errTooManyLobbies = errors.New("too many lobbies")

type lobbyEntry struct {
	lobby      *Lobby
	created    time.Time
	lastActive time.Time
	cleanup    *time.Timer
}

// LobbyManager handles creation, lookup and idle cleanup of lobbies
type LobbyManager struct {
	mu      sync.RWMutex
	lobbies map[string]*lobbyEntry

	// defaults copied into every new lobby
	base LobbyOptions
}

// NewLobbyManager creates a manager whose lobbies start from base.
func NewLobbyManager(base LobbyOptions) *LobbyManager {
	return &LobbyManager{
		lobbies: make(map[string]*lobbyEntry),
		base:    base,
	}
}

// Create makes a lobby playing mapName, or the default map when empty.
func (lm *LobbyManager) Create(name, mapName string) (*Lobby, error) {
	opts := lm.base
	if mapName != "" {
		opts.Map = mapName
	}
	if opts.Map == "" {
		opts.Map = "plain"
	}
	if _, ok := rules.LookupMap(opts.Map); !ok {
		return nil, fmt.Errorf("unknown map %q", opts.Map)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if len(lm.lobbies) >= maxLobbies {
		return nil, errTooManyLobbies
	}

	id := GenerateUUID()
	now := time.Now()
	l := NewLobby(id, name, opts)
	e := &lobbyEntry{lobby: l, created: now, lastActive: now}
	lm.lobbies[id] = e
	// nobody may ever join
	lm.scheduleCleanupLocked(e)
	if opts.Events != nil {
		opts.Events.Track(EvtLobbyCreate, 0, id, LobbyCreatedData{Map: opts.Map})
	}
	return l, nil
}

// Get returns a lobby by ID
func (lm *LobbyManager) Get(id string) *Lobby {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if e, ok := lm.lobbies[id]; ok {
		return e.lobby
	}
	return nil
}

// MarkActive records activity and cancels a pending cleanup.
func (lm *LobbyManager) MarkActive(id string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.lobbies[id]
	if !ok {
		return
	}
	e.lastActive = time.Now()
	if e.cleanup != nil {
		e.cleanup.Stop()
		e.cleanup = nil
	}
}

// RemoveClient removes a participant and schedules cleanup once the lobby
// is empty.
func (lm *LobbyManager) RemoveClient(lobbyID, clientID string) {
	lm.mu.RLock()
	e, ok := lm.lobbies[lobbyID]
	lm.mu.RUnlock()
	if !ok {
		return
	}
	e.lobby.RemoveClient(clientID)

	if e.lobby.PlayerCount() == 0 {
		lm.mu.Lock()
		lm.scheduleCleanupLocked(e)
		lm.mu.Unlock()
	}
}

func (lm *LobbyManager) scheduleCleanupLocked(e *lobbyEntry) {
	if e.cleanup != nil {
		e.cleanup.Stop()
	}
	id := e.lobby.ID()
	e.cleanup = time.AfterFunc(SessionIdleTimeout, func() {
		lm.mu.Lock()
		cur, ok := lm.lobbies[id]
		if !ok || cur != e || e.lobby.PlayerCount() > 0 {
			lm.mu.Unlock()
			return
		}
		delete(lm.lobbies, id)
		lm.mu.Unlock()
		e.lobby.Close()
	})
}

// List returns info about all lobbies, oldest first
func (lm *LobbyManager) List() []SessionInfo {
	lm.mu.RLock()
	entries := make([]*lobbyEntry, 0, len(lm.lobbies))
	for _, e := range lm.lobbies {
		entries = append(entries, e)
	}
	lm.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})
	list := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.lobby.Info())
	}
	return list
}

// Count returns the number of live lobbies
func (lm *LobbyManager) Count() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.lobbies)
}

// CloseAll stops every lobby's scheduler. Used on shutdown.
func (lm *LobbyManager) CloseAll() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for id, e := range lm.lobbies {
		if e.cleanup != nil {
			e.cleanup.Stop()
		}
		e.lobby.Close()
		delete(lm.lobbies, id)
	}
}
