package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Event types for analytics tracking
const (
	EvtLobbyCreate = "lobby_create"
	EvtGameStart   = "game_start"
	EvtGameEnd     = "game_end"
	EvtSnakeDeath  = "snake_death"
	EvtPlayerJoin  = "player_join"
	EvtPlayerLeave = "player_leave"
	EvtLogin       = "login"
)

const (
	eventQueueSize = 1024
	flushBatch     = 50
	flushEvery     = 5 * time.Second
)

// Event payloads. They are stored as JSON in analytics_events.data and read
// back with json_extract, so the field names are part of the schema.

type LobbyCreatedData struct {
	Map string `json:"map"`
}

type GameStartData struct {
	Map     string `json:"map"`
	Players int    `json:"players"`
}

type GameEndData struct {
	Map      string  `json:"map"`
	Steps    int     `json:"steps"`
	Duration float64 `json:"duration"` // seconds
	Players  int     `json:"players"`
	PowerUps int     `json:"powerups"`
	Winner   int     `json:"winner"`
}

type SnakeDeathData struct {
	Map    string `json:"map"`
	Slot   int    `json:"slot"`
	Step   int    `json:"step"`
	Deaths int    `json:"deaths"` // including this one
}

func gameEndData(r MatchResult) GameEndData {
	d := GameEndData{
		Map:      r.Map,
		Steps:    r.Steps,
		Duration: r.Duration.Seconds(),
		Players:  len(r.Players),
		Winner:   r.Winner,
	}
	for _, p := range r.Players {
		d.PowerUps += p.PowerUps
	}
	return d
}

// AnalyticsEvent is one queued row.
type AnalyticsEvent struct {
	Type     string
	PlayerID int64
	LobbyID  string
	Data     string
	At       time.Time
}

// Analytics persists gameplay events in batches off the tick path and
// answers the aggregate queries behind /api/stats.
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	mu              sync.RWMutex
	concurrentPeers int
	activeLobbies   int
}

// NewAnalytics starts the background writer. db may be nil, in which case
// events are dropped and queries return nothing.
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, eventQueueSize),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track queues an event. data is marshalled to JSON; nil stores NULL. It
// never blocks: a full queue drops the event.
func (a *Analytics) Track(evtType string, playerID int64, lobbyID string, data interface{}) {
	evt := AnalyticsEvent{Type: evtType, PlayerID: playerID, LobbyID: lobbyID, At: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("analytics: %s payload: %v", evtType, err)
			return
		}
		evt.Data = string(raw)
	}
	select {
	case a.events <- evt:
	default:
	}
}

func (a *Analytics) SetConcurrentPeers(n int) {
	a.mu.Lock()
	a.concurrentPeers = n
	a.mu.Unlock()
}

func (a *Analytics) SetActiveLobbies(n int) {
	a.mu.Lock()
	a.activeLobbies = n
	a.mu.Unlock()
}

// GetLiveMetrics returns connected peers and live lobbies.
func (a *Analytics) GetLiveMetrics() (peers, lobbies int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.concurrentPeers, a.activeLobbies
}

// Stop flushes everything queued so far and stops the writer. Track must
// not be called afterwards.
func (a *Analytics) Stop() {
	close(a.stop)
	a.wg.Wait()
}

func (a *Analytics) writer() {
	defer a.wg.Done()

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	var pending []AnalyticsEvent
	write := func() {
		if len(pending) > 0 {
			a.insert(pending)
			pending = pending[:0]
		}
	}
	for {
		select {
		case evt := <-a.events:
			if pending = append(pending, evt); len(pending) >= flushBatch {
				write()
			}
		case <-ticker.C:
			write()
		case <-a.stop:
			for {
				select {
				case evt := <-a.events:
					pending = append(pending, evt)
				default:
					write()
					return
				}
			}
		}
	}
}

// insert stores a batch in one transaction.
func (a *Analytics) insert(events []AnalyticsEvent) {
	if a.db == nil {
		return
	}
	err := a.db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			_, err := stmt.Exec(e.Type,
				sql.NullInt64{Int64: e.PlayerID, Valid: e.PlayerID > 0},
				sql.NullString{String: e.LobbyID, Valid: e.LobbyID != ""},
				sql.NullString{String: e.Data, Valid: e.Data != ""},
				e.At.Format(time.RFC3339))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("analytics: dropped %d events: %v", len(events), err)
	}
}

// since renders the lower time bound for a window of days as an SQLite date
// modifier. Zero days means since midnight UTC today.
func since(days int) string {
	return fmt.Sprintf("-%d days", days)
}

// ActivePlayers counts distinct registered players with any event in the
// last days (0 = today). Guests are not counted.
func (a *Analytics) ActivePlayers(days int) (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var n int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', ?)
	`, since(days)).Scan(&n)
	return n, err
}

// ActiveSummary returns daily, weekly and monthly active players.
func (a *Analytics) ActiveSummary() (map[string]int, error) {
	out := make(map[string]int, 3)
	for _, w := range []struct {
		key  string
		days int
	}{{"dau", 0}, {"wau", 7}, {"mau", 30}} {
		n, err := a.ActivePlayers(w.days)
		if err != nil {
			return nil, err
		}
		out[w.key] = n
	}
	return out, nil
}

// MapAnalytics aggregates finished games and snake deaths on one map.
type MapAnalytics struct {
	Map           string  `json:"map"`
	Games         int     `json:"games"`
	AvgDuration   float64 `json:"avg_duration"`
	AvgSteps      float64 `json:"avg_steps"`
	AvgPowerUps   float64 `json:"avg_powerups"`
	Deaths        int     `json:"deaths"`
	DeathsPerGame float64 `json:"deaths_per_game"`
	AvgDeathStep  float64 `json:"avg_death_step"`
}

// MapStats combines game_end and snake_death events per map for the last
// days. Maps are ordered by games played, then by name.
func (a *Analytics) MapStats(days int) ([]MapAnalytics, error) {
	if a.db == nil {
		return nil, nil
	}
	byMap := make(map[string]*MapAnalytics)
	get := func(name string) *MapAnalytics {
		m, ok := byMap[name]
		if !ok {
			m = &MapAnalytics{Map: name}
			byMap[name] = m
		}
		return m
	}

	err := a.eachRow(`
		SELECT COALESCE(json_extract(data, '$.map'), 'unknown') AS map_name, COUNT(*),
			AVG(json_extract(data, '$.duration')),
			AVG(json_extract(data, '$.steps')),
			AVG(json_extract(data, '$.powerups'))
		FROM analytics_events
		WHERE event_type = ? AND json_valid(data) AND created_at >= date('now', ?)
		GROUP BY map_name
	`, []interface{}{EvtGameEnd, since(days)}, func(rows *sql.Rows) error {
		var name string
		var games int
		var dur, steps, pu sql.NullFloat64
		if err := rows.Scan(&name, &games, &dur, &steps, &pu); err != nil {
			return err
		}
		m := get(name)
		m.Games, m.AvgDuration, m.AvgSteps, m.AvgPowerUps = games, dur.Float64, steps.Float64, pu.Float64
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = a.eachRow(`
		SELECT COALESCE(json_extract(data, '$.map'), 'unknown') AS map_name, COUNT(*),
			AVG(json_extract(data, '$.step'))
		FROM analytics_events
		WHERE event_type = ? AND json_valid(data) AND created_at >= date('now', ?)
		GROUP BY map_name
	`, []interface{}{EvtSnakeDeath, since(days)}, func(rows *sql.Rows) error {
		var name string
		var deaths int
		var step sql.NullFloat64
		if err := rows.Scan(&name, &deaths, &step); err != nil {
			return err
		}
		m := get(name)
		m.Deaths, m.AvgDeathStep = deaths, step.Float64
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]MapAnalytics, 0, len(byMap))
	for _, m := range byMap {
		if m.Games > 0 {
			m.DeathsPerGame = float64(m.Deaths) / float64(m.Games)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Games != out[j].Games {
			return out[i].Games > out[j].Games
		}
		return out[i].Map < out[j].Map
	})
	return out, nil
}

// EventCounts returns how often each event type fired in the last days.
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	out := make(map[string]int)
	err := a.eachRow(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', ?)
		GROUP BY event_type
	`, []interface{}{since(days)}, func(rows *sql.Rows) error {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return err
		}
		out[typ] = n
		return nil
	})
	return out, err
}

// DayActivity is one day of play.
type DayActivity struct {
	Day     string `json:"day"`
	Players int    `json:"players"`
	Games   int    `json:"games"`
	Deaths  int    `json:"deaths"`
}

// DailyActivity returns active registered players, finished games and snake
// deaths per day for the last days, oldest first. Days without events are
// omitted.
func (a *Analytics) DailyActivity(days int) ([]DayActivity, error) {
	if a.db == nil {
		return nil, nil
	}
	var out []DayActivity
	err := a.eachRow(`
		SELECT date(created_at) AS day,
			COUNT(DISTINCT player_id),
			SUM(event_type = ?),
			SUM(event_type = ?)
		FROM analytics_events
		WHERE created_at >= date('now', ?)
		GROUP BY day ORDER BY day
	`, []interface{}{EvtGameEnd, EvtSnakeDeath, since(days)}, func(rows *sql.Rows) error {
		var d DayActivity
		if err := rows.Scan(&d.Day, &d.Players, &d.Games, &d.Deaths); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (a *Analytics) eachRow(query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := a.db.conn.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
