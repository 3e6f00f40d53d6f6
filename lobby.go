package main

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"snake-server/rules"
)

const maxPlayersPerLobby = 16

var (
	errLobbyFull   = errors.New("lobby full")
	errLobbyClosed = errors.New("lobby finished")
)

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	Send(msg interface{})
}

// EventTracker receives analytics events. *Analytics implements it.
type EventTracker interface {
	Track(evtType string, playerID int64, lobbyID string, data interface{})
}

// LobbyState is the session lifecycle. Transitions only move forward.
type LobbyState int

const (
	StateLobby LobbyState = iota
	StateInGame
	StateFinished
)

func (s LobbyState) String() string {
	switch s {
	case StateInGame:
		return "in_game"
	case StateFinished:
		return "finished"
	}
	return "lobby"
}

// LobbyOptions configures the world a lobby creates on start.
type LobbyOptions struct {
	Map          string
	UpdateRate   int    // ms, 0 keeps the world default
	PowerUpToEnd int    // 0 keeps the world default
	Seed         uint64 // 0 picks a random seed
	Debug        bool

	// OnFinish runs in its own goroutine once the world ends.
	OnFinish func(MatchResult)
	Events   EventTracker
}

// PlayerResult is one participant's outcome.
type PlayerResult struct {
	Name     string `json:"name"`
	AuthID   int64  `json:"-"`
	Slot     int    `json:"slot"`
	PowerUps int    `json:"powerups"`
	Deaths   int    `json:"deaths"`
	Length   int    `json:"length"`
}

// MatchResult summarizes a finished game. Winner indexes Players, or is -1
// when nobody collected strictly the most power-ups.
type MatchResult struct {
	LobbyID  string
	Map      string
	Steps    int
	Duration time.Duration
	Players  []PlayerResult
	Winner   int
}

type participant struct {
	id     string
	name   string
	authID int64
	conn   Broadcaster
	ready  bool
	slot   int
}

// Lobby owns one World, its roster and the tick scheduler. Every method and
// the timer callback hold mu, so the world has a single writer.
type Lobby struct {
	mu sync.Mutex

	id   string
	name string
	opts LobbyOptions

	state   LobbyState
	clients []*participant
	world   *rules.World
	cmds    []rules.Command

	lastTick  time.Time
	timer     *time.Timer // armed deferred tick, nil when idle
	startedAt time.Time
}

// NewLobby creates a lobby in the waiting state.
func NewLobby(id, name string, opts LobbyOptions) *Lobby {
	if opts.Map == "" {
		opts.Map = "plain"
	}
	return &Lobby{
		id:       id,
		name:     name,
		opts:     opts,
		lastTick: time.Now(),
	}
}

func (l *Lobby) ID() string      { return l.id }
func (l *Lobby) Name() string    { return l.name }
func (l *Lobby) MapName() string { return l.opts.Map }

// State returns the current lifecycle state.
func (l *Lobby) State() LobbyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// PlayerCount returns the roster size.
func (l *Lobby) PlayerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Info describes the lobby for listings.
func (l *Lobby) Info() SessionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return SessionInfo{
		ID:      l.id,
		Name:    l.name,
		Map:     l.opts.Map,
		State:   l.state.String(),
		Players: len(l.clients),
	}
}

// CanJoin reports why a new participant would be refused, or nil.
func (l *Lobby) CanJoin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joinableLocked()
}

func (l *Lobby) joinableLocked() error {
	if l.state == StateFinished {
		return errLobbyClosed
	}
	if len(l.clients) >= maxPlayersPerLobby {
		return errLobbyFull
	}
	return nil
}

// AddClient puts a participant on the roster, confirms the join and sends
// the current full snapshot. A late joiner gets a snake right away.
func (l *Lobby) AddClient(name string, authID int64, conn Broadcaster) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.joinableLocked(); err != nil {
		return "", err
	}

	p := &participant{id: GenerateID(4), name: name, authID: authID, conn: conn, slot: -1}
	l.clients = append(l.clients, p)

	conn.Send(Envelope{T: MsgJoined, Data: JoinedMsg{SID: l.id, PID: p.id}})
	conn.Send(Envelope{T: MsgState, Data: l.fullState()})

	if l.state == StateInGame {
		l.createSnake(p)
	}
	l.track(EvtPlayerJoin, authID, nil)
	return p.id, nil
}

// RemoveClient drops a participant immediately. Its snake leaves the world
// and the removal is part of the next delta.
func (l *Lobby) RemoveClient(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return
	}
	p := l.clients[idx]
	l.clients = append(l.clients[:idx], l.clients[idx+1:]...)
	l.track(EvtPlayerLeave, p.authID, nil)

	if l.state != StateInGame || p.slot < 0 {
		return
	}
	if l.world.RemoveSnake(p.slot) {
		l.cmds = append(l.cmds, rules.RemoveSnakeCmd(p.slot))
		l.debugf("removeSnake %d", p.slot)
	}
	// the one who left may have been the only one not ready
	if l.allReady() {
		l.onReady()
	}
}

// StartGame creates the world, places the map and one snake per participant
// and broadcasts the first full snapshot. It is a no-op once in game. A bad
// map leaves the lobby untouched.
func (l *Lobby) StartGame() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateInGame:
		return nil
	case StateFinished:
		return errLobbyClosed
	}

	var opts []rules.Option
	if l.opts.UpdateRate > 0 {
		opts = append(opts, rules.WithUpdateRate(l.opts.UpdateRate))
	}
	if l.opts.PowerUpToEnd > 0 {
		opts = append(opts, rules.WithPowerUpToEnd(l.opts.PowerUpToEnd))
	}
	if l.opts.Seed != 0 {
		opts = append(opts, rules.WithSeed(l.opts.Seed))
	}
	world := rules.NewWorld(opts...)
	if err := world.LoadMap(l.opts.Map); err != nil {
		return fmt.Errorf("lobby %s: %w", l.id, err)
	}

	l.world = world
	l.state = StateInGame
	l.startedAt = time.Now()
	l.lastTick = l.startedAt
	world.OnSnakeDead.Subscribe(l.onSnakeDead)
	world.OnEnd.Subscribe(func(*rules.World) { l.debugf("world ended at step %d", world.CurrentStep) })

	for _, p := range l.clients {
		l.createSnake(p)
	}
	l.track(EvtGameStart, 0, GameStartData{Map: l.opts.Map, Players: len(l.clients)})
	log.Printf("lobby %s: started on %s with %d players", l.id, l.opts.Map, len(l.clients))

	l.broadcastFull()
	return nil
}

// SetReady updates one ready flag; once everyone is ready the next tick is
// scheduled.
func (l *Lobby) SetReady(id string, ready bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return
	}
	l.clients[idx].ready = ready
	if l.allReady() {
		l.onReady()
	}
}

// Input forwards a direction command to the participant's snake. Accepted
// commands are logged for the next delta.
func (l *Lobby) Input(id, cmd string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 || l.world == nil || l.state != StateInGame {
		return false
	}
	slot := l.clients[idx].slot
	if slot < 0 {
		return false
	}
	if !l.world.Input(slot, cmd) {
		return false
	}
	l.cmds = append(l.cmds, rules.InputCmd(slot, cmd))
	l.debugf("input %d %s", slot, cmd)
	return true
}

// Close stops a pending tick and finishes the lobby.
func (l *Lobby) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.state = StateFinished
}

func (l *Lobby) indexOf(id string) int {
	for i, p := range l.clients {
		if p.id == id {
			return i
		}
	}
	return -1
}

func (l *Lobby) allReady() bool {
	if len(l.clients) == 0 {
		return false
	}
	for _, p := range l.clients {
		if !p.ready {
			return false
		}
	}
	return true
}

func (l *Lobby) createSnake(p *participant) {
	s := l.world.AddSnake()
	p.slot = s.Slot
	l.cmds = append(l.cmds, rules.AddSnakeCmd(s.Slot))
	l.debugf("addSnake %d for %s", s.Slot, p.name)
}

// onReady ticks now if the interval has passed, otherwise arms the single
// deferred tick. A second ready condition while armed does nothing.
func (l *Lobby) onReady() {
	if l.state != StateInGame || l.timer != nil {
		return
	}
	rate := time.Duration(l.world.UpdateRate) * time.Millisecond
	elapsed := time.Since(l.lastTick)
	if elapsed >= rate {
		l.nextTick()
		return
	}
	l.timer = time.AfterFunc(rate-elapsed, l.deferredTick)
}

func (l *Lobby) deferredTick() {
	defer func() {
		if err := recover(); err != nil {
			reportPanic(err, "lobby", l.id)
		}
	}()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	if l.state != StateInGame {
		return
	}
	l.nextTick()
}

func (l *Lobby) nextTick() {
	now := time.Now()
	l.debugf("tick after %dms", now.Sub(l.lastTick).Milliseconds())
	l.lastTick = now
	for _, p := range l.clients {
		p.ready = false
	}

	l.world.Step()
	l.broadcastDelta()

	if l.world.Status == rules.End {
		l.finish()
	}
}

func (l *Lobby) finish() {
	l.state = StateFinished
	result := l.result()
	l.broadcastFull()
	l.track(EvtGameEnd, 0, gameEndData(result))
	log.Printf("lobby %s: finished after %d steps", l.id, result.Steps)

	if hook := l.opts.OnFinish; hook != nil {
		go func() {
			defer func() {
				if err := recover(); err != nil {
					reportPanic(err, "lobby", l.id)
				}
			}()
			hook(result)
		}()
	}
}

func (l *Lobby) result() MatchResult {
	res := MatchResult{
		LobbyID:  l.id,
		Map:      l.opts.Map,
		Steps:    l.world.CurrentStep,
		Duration: time.Since(l.startedAt),
		Winner:   -1,
	}
	best, tie := -1, false
	for _, p := range l.clients {
		s := l.world.Snake(p.slot)
		if s == nil {
			continue
		}
		res.Players = append(res.Players, PlayerResult{
			Name:     p.name,
			AuthID:   p.authID,
			Slot:     p.slot,
			PowerUps: s.PowerUps,
			Deaths:   s.Deaths,
			Length:   s.Length(),
		})
		switch {
		case s.PowerUps > best:
			best, tie = s.PowerUps, false
			res.Winner = len(res.Players) - 1
		case s.PowerUps == best:
			tie = true
		}
	}
	if tie {
		res.Winner = -1
	}
	return res
}

func (l *Lobby) onSnakeDead(s *rules.Snake) {
	for _, p := range l.clients {
		if p.slot == s.Slot {
			l.track(EvtSnakeDeath, p.authID, SnakeDeathData{
				Map:    l.opts.Map,
				Slot:   s.Slot,
				Step:   l.world.CurrentStep,
				Deaths: s.Deaths,
			})
			return
		}
	}
}

func (l *Lobby) roster() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(l.clients))
	for _, p := range l.clients {
		out = append(out, PlayerInfo{ID: p.id, Name: p.name, Slot: p.slot, Ready: p.ready})
	}
	return out
}

func (l *Lobby) fullState() StateMsg {
	msg := StateMsg{Lobby: l.id, State: l.state.String(), Players: l.roster()}
	if l.world != nil {
		st := l.world.State()
		msg.Game = &st
	}
	return msg
}

// broadcastFull sends a full snapshot to everyone. It supersedes the
// pending command log.
func (l *Lobby) broadcastFull() {
	msg := Envelope{T: MsgState, Data: l.fullState()}
	for _, p := range l.clients {
		p.conn.Send(msg)
	}
	l.cmds = nil
}

func (l *Lobby) broadcastDelta() {
	cmds := l.cmds
	if cmds == nil {
		cmds = []rules.Command{}
	}
	msg := Envelope{T: MsgDelta, Data: DeltaMsg{
		Lobby: l.id,
		State: l.state.String(),
		Step:  l.world.CurrentStep,
		Hash:  fmt.Sprintf("%016x", l.world.Hash()),
		Cmd:   cmds,
	}}
	for _, p := range l.clients {
		p.conn.Send(msg)
	}
	l.cmds = nil
}

func (l *Lobby) track(evt string, playerID int64, data interface{}) {
	if l.opts.Events != nil {
		l.opts.Events.Track(evt, playerID, l.id, data)
	}
}

func (l *Lobby) debugf(format string, args ...interface{}) {
	if l.opts.Debug {
		log.Printf("lobby %s: "+format, append([]interface{}{l.id}, args...)...)
	}
}
