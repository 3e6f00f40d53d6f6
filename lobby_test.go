package main

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"snake-server/rules"
)

// mockBroadcaster records every envelope sent to it.
type mockBroadcaster struct {
	mu   sync.Mutex
	msgs []Envelope
}

func (m *mockBroadcaster) Send(msg interface{}) {
	env, ok := msg.(Envelope)
	if !ok {
		return
	}
	m.mu.Lock()
	m.msgs = append(m.msgs, env)
	m.mu.Unlock()
}

func (m *mockBroadcaster) all() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.msgs)
}

func (m *mockBroadcaster) deltas() []DeltaMsg {
	var out []DeltaMsg
	for _, env := range m.all() {
		if env.T == MsgDelta {
			out = append(out, env.Data.(DeltaMsg))
		}
	}
	return out
}

func (m *mockBroadcaster) states() []StateMsg {
	var out []StateMsg
	for _, env := range m.all() {
		if env.T == MsgState {
			out = append(out, env.Data.(StateMsg))
		}
	}
	return out
}

type trackedEvent struct {
	typ  string
	data interface{}
}

type mockTracker struct {
	mu     sync.Mutex
	events []trackedEvent
}

func (m *mockTracker) Track(evtType string, playerID int64, lobbyID string, data interface{}) {
	m.mu.Lock()
	m.events = append(m.events, trackedEvent{evtType, data})
	m.mu.Unlock()
}

func (m *mockTracker) has(evtType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.typ == evtType {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestLobby(opts LobbyOptions) *Lobby {
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	return NewLobby("test", "Test Pit", opts)
}

func addClients(t *testing.T, l *Lobby, names ...string) ([]string, []*mockBroadcaster) {
	t.Helper()
	ids := make([]string, len(names))
	conns := make([]*mockBroadcaster, len(names))
	for i, name := range names {
		conns[i] = &mockBroadcaster{}
		id, err := l.AddClient(name, 0, conns[i])
		if err != nil {
			t.Fatalf("AddClient(%s): %v", name, err)
		}
		ids[i] = id
	}
	return ids, conns
}

// tickAll marks everyone ready and waits for the resulting delta.
func tickAll(t *testing.T, l *Lobby, watch *mockBroadcaster, ids ...string) DeltaMsg {
	t.Helper()
	before := len(watch.deltas())
	for _, id := range ids {
		l.SetReady(id, true)
	}
	waitFor(t, "delta", func() bool { return len(watch.deltas()) > before })
	return watch.deltas()[before]
}

func replay(t *testing.T, st *rules.GameState, cmds []rules.Command) string {
	t.Helper()
	w := rules.NewWorld()
	if err := w.LoadState(*st); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	for _, c := range cmds {
		if err := w.Apply(c); err != nil {
			t.Fatalf("Apply(%v): %v", c, err)
		}
	}
	w.Step()
	return fmt.Sprintf("%016x", w.Hash())
}

func TestLobbyJoinSendsJoinedThenState(t *testing.T) {
	l := newTestLobby(LobbyOptions{})
	conn := &mockBroadcaster{}
	id, err := l.AddClient("Alice", 0, conn)
	if err != nil {
		t.Fatal(err)
	}

	msgs := conn.all()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].T != MsgJoined {
		t.Fatalf("first message = %s, want joined", msgs[0].T)
	}
	joined := msgs[0].Data.(JoinedMsg)
	if joined.SID != "test" || joined.PID != id {
		t.Errorf("joined = %+v", joined)
	}
	st := msgs[1].Data.(StateMsg)
	if st.State != "lobby" || st.Game != nil {
		t.Errorf("waiting lobby state = %+v", st)
	}
	if len(st.Players) != 1 || st.Players[0].Slot != -1 || st.Players[0].Name != "Alice" {
		t.Errorf("roster = %+v", st.Players)
	}
}

func TestLobbyWaitsUntilStarted(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 1})
	ids, conns := addClients(t, l, "A", "B")

	for _, id := range ids {
		l.SetReady(id, true)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(conns[0].deltas()); n != 0 {
		t.Errorf("got %d deltas before start", n)
	}
	if l.State() != StateLobby {
		t.Errorf("state = %v, want lobby", l.State())
	}
	if l.Input(ids[0], "up") {
		t.Error("input should be refused before start")
	}
}

func TestLobbyStartGame(t *testing.T) {
	l := newTestLobby(LobbyOptions{})
	_, conns := addClients(t, l, "A", "B")

	if err := l.StartGame(); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateInGame {
		t.Fatalf("state = %v, want in_game", l.State())
	}
	states := conns[1].states()
	last := states[len(states)-1]
	if last.State != "in_game" || last.Game == nil {
		t.Fatalf("start broadcast = %+v", last)
	}
	if len(last.Game.Snakes) != 2 {
		t.Errorf("snakes = %d, want 2", len(last.Game.Snakes))
	}
	if last.Game.Map != "plain" {
		t.Errorf("map = %q", last.Game.Map)
	}
	for i, p := range last.Players {
		if p.Slot != i {
			t.Errorf("player %d slot = %d", i, p.Slot)
		}
	}

	// second start is a no-op
	n := len(conns[0].all())
	if err := l.StartGame(); err != nil {
		t.Fatal(err)
	}
	if len(conns[0].all()) != n {
		t.Error("second StartGame should not broadcast")
	}
}

func TestLobbyStartUnknownMap(t *testing.T) {
	l := newTestLobby(LobbyOptions{Map: "nowhere"})
	addClients(t, l, "A")
	if err := l.StartGame(); err == nil {
		t.Fatal("expected error for unknown map")
	}
	if l.State() != StateLobby {
		t.Errorf("state = %v, want lobby after failed start", l.State())
	}
}

func TestLobbyTicksWhenAllReady(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 10})
	ids, conns := addClients(t, l, "A", "B")
	l.StartGame()
	time.Sleep(15 * time.Millisecond)

	l.SetReady(ids[0], true)
	if len(conns[0].deltas()) != 0 {
		t.Fatal("one ready player must not tick")
	}
	l.SetReady(ids[1], true)
	// interval already elapsed: tick is synchronous
	deltas := conns[0].deltas()
	if len(deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(deltas))
	}
	if deltas[0].Step != 1 || deltas[0].Hash == "" || deltas[0].State != "in_game" {
		t.Errorf("delta = %+v", deltas[0])
	}
	if len(deltas[0].Cmd) != 0 {
		t.Errorf("start snapshot should have flushed the log, cmd = %v", deltas[0].Cmd)
	}

	// ready flags were cleared by the tick
	time.Sleep(15 * time.Millisecond)
	l.SetReady(ids[0], true)
	if len(conns[0].deltas()) != 1 {
		t.Error("ready flags should reset after a tick")
	}
}

func TestLobbyDefersTickToInterval(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 80})
	ids, conns := addClients(t, l, "A")
	l.StartGame()

	begin := time.Now()
	l.SetReady(ids[0], true)
	if len(conns[0].deltas()) != 0 {
		t.Fatal("tick should wait for the interval")
	}
	// a second ready condition while armed does nothing
	l.SetReady(ids[0], false)
	l.SetReady(ids[0], true)

	waitFor(t, "deferred tick", func() bool { return len(conns[0].deltas()) == 1 })
	if elapsed := time.Since(begin); elapsed < 60*time.Millisecond {
		t.Errorf("tick after %v, want about 80ms", elapsed)
	}
	time.Sleep(120 * time.Millisecond)
	if n := len(conns[0].deltas()); n != 1 {
		t.Errorf("deltas = %d, want exactly 1", n)
	}
}

func TestLobbyInputIsLogged(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 1})
	ids, conns := addClients(t, l, "A", "B")
	l.StartGame()

	if !l.Input(ids[0], "up") {
		t.Fatal("up should be accepted for a snake heading right")
	}
	if l.Input(ids[1], "left") {
		t.Error("reverse turn should be refused")
	}
	if l.Input("ghost", "up") {
		t.Error("unknown participant should be refused")
	}

	d := tickAll(t, l, conns[0], ids...)
	want := []rules.Command{rules.InputCmd(0, "up")}
	if !slices.Equal(d.Cmd, want) {
		t.Errorf("cmd = %v, want %v", d.Cmd, want)
	}

	d = tickAll(t, l, conns[0], ids...)
	if len(d.Cmd) != 0 {
		t.Errorf("log should be empty after a delta, got %v", d.Cmd)
	}
}

func TestLobbyDeltaReplaysToSameHash(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 1})
	ids, conns := addClients(t, l, "A", "B")
	l.StartGame()

	states := conns[0].states()
	snap := states[len(states)-1].Game

	l.Input(ids[0], "up")
	l.Input(ids[1], "down")
	d := tickAll(t, l, conns[0], ids...)
	if got := replay(t, snap, d.Cmd); got != d.Hash {
		t.Errorf("replayed hash %s, server %s", got, d.Hash)
	}
}

func TestLobbyLateJoinGetsSnake(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 1})
	ids, conns := addClients(t, l, "A")
	l.StartGame()
	tickAll(t, l, conns[0], ids...)
	before := len(conns[0].states())

	late := &mockBroadcaster{}
	lateID, err := l.AddClient("Late", 0, late)
	if err != nil {
		t.Fatal(err)
	}
	states := late.states()
	if len(states) != 1 || states[0].Game == nil || len(states[0].Game.Snakes) != 1 {
		t.Fatalf("late joiner snapshot = %+v", states)
	}
	if len(conns[0].states()) != before {
		t.Error("existing players should not get a snapshot on join")
	}

	d := tickAll(t, l, late, ids[0], lateID)
	if !slices.Contains(d.Cmd, rules.AddSnakeCmd(1)) {
		t.Errorf("delta cmd = %v, want addSnake 1", d.Cmd)
	}
	if got := replay(t, states[0].Game, d.Cmd); got != d.Hash {
		t.Errorf("late joiner replay hash %s, server %s", got, d.Hash)
	}
}

func TestLobbyRemoveClient(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 1})
	ids, conns := addClients(t, l, "A", "B")
	l.StartGame()
	time.Sleep(5 * time.Millisecond)

	l.SetReady(ids[0], true)
	l.RemoveClient(ids[1])
	// the remaining player was already ready
	waitFor(t, "delta after leave", func() bool { return len(conns[0].deltas()) == 1 })

	d := conns[0].deltas()[0]
	if !slices.Equal(d.Cmd, []rules.Command{rules.RemoveSnakeCmd(1)}) {
		t.Errorf("cmd = %v, want removeSnake 1", d.Cmd)
	}
	if l.PlayerCount() != 1 {
		t.Errorf("players = %d, want 1", l.PlayerCount())
	}
	if len(conns[1].deltas()) != 0 {
		t.Error("removed client should not receive deltas")
	}
	l.RemoveClient("missing")
}

func TestLobbyFinishes(t *testing.T) {
	if err := rules.RegisterMap(&rules.MapDef{
		Name:  "test-corridor",
		Width: 4, Height: 1,
		Items: []rules.MapItem{{Kind: rules.KindPowerUp, X: -1, Y: -1}},
	}); err != nil {
		t.Fatal(err)
	}

	results := make(chan MatchResult, 1)
	events := &mockTracker{}
	l := newTestLobby(LobbyOptions{
		Map:          "test-corridor",
		UpdateRate:   1,
		PowerUpToEnd: 1,
		OnFinish:     func(r MatchResult) { results <- r },
		Events:       events,
	})
	ids, conns := addClients(t, l, "Solo")
	l.StartGame()

	for i := 0; i < 4 && l.State() == StateInGame; i++ {
		tickAll(t, l, conns[0], ids...)
	}
	if l.State() != StateFinished {
		t.Fatalf("state = %v, want finished", l.State())
	}

	select {
	case r := <-results:
		if r.Map != "test-corridor" || r.Steps < 1 || r.Steps > 3 {
			t.Errorf("result = %+v", r)
		}
		if len(r.Players) != 1 || r.Players[0].PowerUps != 1 || r.Winner != 0 {
			t.Errorf("players = %+v winner = %d", r.Players, r.Winner)
		}
	case <-time.After(time.Second):
		t.Fatal("OnFinish not called")
	}

	states := conns[0].states()
	if last := states[len(states)-1]; last.State != "finished" {
		t.Errorf("final broadcast state = %q", last.State)
	}
	for _, evt := range []string{EvtPlayerJoin, EvtGameStart, EvtGameEnd} {
		if !events.has(evt) {
			t.Errorf("event %s not tracked", evt)
		}
	}

	n := len(conns[0].deltas())
	l.SetReady(ids[0], true)
	time.Sleep(10 * time.Millisecond)
	if len(conns[0].deltas()) != n {
		t.Error("finished lobby must not tick")
	}
	if _, err := l.AddClient("Late", 0, &mockBroadcaster{}); err == nil {
		t.Error("finished lobby should refuse joins")
	}
	if err := l.StartGame(); err == nil {
		t.Error("finished lobby should refuse start")
	}
}

func TestLobbyCloseStopsTimer(t *testing.T) {
	l := newTestLobby(LobbyOptions{UpdateRate: 40})
	ids, conns := addClients(t, l, "A")
	l.StartGame()
	l.SetReady(ids[0], true)
	l.Close()

	time.Sleep(80 * time.Millisecond)
	if n := len(conns[0].deltas()); n != 0 {
		t.Errorf("deltas after close = %d", n)
	}
	if l.State() != StateFinished {
		t.Errorf("state = %v, want finished", l.State())
	}
}

func TestLobbyFull(t *testing.T) {
	l := newTestLobby(LobbyOptions{})
	for i := 0; i < maxPlayersPerLobby; i++ {
		if _, err := l.AddClient(fmt.Sprintf("P%d", i), 0, &mockBroadcaster{}); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := l.CanJoin(); err != errLobbyFull {
		t.Errorf("CanJoin = %v, want %v", err, errLobbyFull)
	}
	if _, err := l.AddClient("extra", 0, &mockBroadcaster{}); err != errLobbyFull {
		t.Errorf("err = %v, want %v", err, errLobbyFull)
	}

	closed := newTestLobby(LobbyOptions{})
	if err := closed.CanJoin(); err != nil {
		t.Errorf("open lobby CanJoin = %v", err)
	}
	closed.Close()
	if err := closed.CanJoin(); err != errLobbyClosed {
		t.Errorf("CanJoin = %v, want %v", err, errLobbyClosed)
	}
}

func TestLobbyResultTie(t *testing.T) {
	l := newTestLobby(LobbyOptions{})
	addClients(t, l, "A", "B")
	l.StartGame()

	l.mu.Lock()
	res := l.result()
	l.mu.Unlock()
	if res.Winner != -1 {
		t.Errorf("winner = %d, want -1 on a tie", res.Winner)
	}
	if len(res.Players) != 2 {
		t.Errorf("players = %d", len(res.Players))
	}
}

func TestLobbyStateString(t *testing.T) {
	for s, want := range map[LobbyState]string{StateLobby: "lobby", StateInGame: "in_game", StateFinished: "finished"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
