package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow is a player's lifetime totals
type StatsRow struct {
	PlayerID   int64
	Games      int
	Wins       int
	PowerUps   int
	Deaths     int
	BestLength int
	Playtime   float64 // seconds
}

// MatchPlayer is one player's line in a finished match
type MatchPlayer struct {
	MatchID  int64     `json:"match_id" msgpack:"match_id"`
	Map      string    `json:"map" msgpack:"map"`
	Steps    int       `json:"steps" msgpack:"steps"`
	Slot     int       `json:"slot" msgpack:"slot"`
	PowerUps int       `json:"powerups" msgpack:"powerups"`
	Deaths   int       `json:"deaths" msgpack:"deaths"`
	Length   int       `json:"length" msgpack:"length"`
	Won      bool      `json:"won" msgpack:"won"`
	PlayedAt time.Time `json:"played_at" msgpack:"played_at"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stats (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		games INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		powerups INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		best_length INTEGER NOT NULL DEFAULT 0,
		playtime REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lobby_id TEXT NOT NULL DEFAULT '',
		map TEXT NOT NULL DEFAULT '',
		steps INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		slot INTEGER NOT NULL DEFAULT 0,
		powerups INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		length INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_player ON match_players(player_id);
	CREATE INDEX IF NOT EXISTS idx_players_username ON players(username);
	CREATE INDEX IF NOT EXISTS idx_analytics_type_time ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// GetSetting returns a stored setting, or "" when unset
func (db *DB) GetSetting(key string) (string, error) {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// inTx runs fn in a transaction and commits when it returns nil.
func (db *DB) inTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreatePlayer creates an account together with its empty stats row and
// returns the player ID.
func (db *DB) CreatePlayer(username, passHash string) (int64, error) {
	var id int64
	err := db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("INSERT INTO players (username, pass_hash) VALUES (?, ?)", username, passHash)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO stats (player_id) VALUES (?)", id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetPlayerByUsername returns a player by username
func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetPlayerByID returns a player by ID
func (db *DB) GetPlayerByID(id int64) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE id = ?",
		id,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetStats returns player stats
func (db *DB) GetStats(playerID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT player_id, games, wins, powerups, deaths, best_length, playtime FROM stats WHERE player_id = ?",
		playerID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PlayerID, &s.Games, &s.Wins, &s.PowerUps, &s.Deaths, &s.BestLength, &s.Playtime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// RecordMatch stores a finished game and folds it into the stats of every
// authenticated participant. Guests are skipped. Returns the match ID.
func (db *DB) RecordMatch(res MatchResult) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	r, err := tx.Exec(
		"INSERT INTO matches (lobby_id, map, steps, duration) VALUES (?, ?, ?, ?)",
		res.LobbyID, res.Map, res.Steps, res.Duration.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	matchID, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, p := range res.Players {
		if p.AuthID <= 0 {
			continue
		}
		won := 0
		if i == res.Winner {
			won = 1
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO match_players (match_id, player_id, slot, powerups, deaths, length, won)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			matchID, p.AuthID, p.Slot, p.PowerUps, p.Deaths, p.Length, won,
		); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`
			UPDATE stats SET
				games = games + 1,
				wins = wins + ?,
				powerups = powerups + ?,
				deaths = deaths + ?,
				best_length = MAX(best_length, ?),
				playtime = playtime + ?
			WHERE player_id = ?`,
			won, p.PowerUps, p.Deaths, p.Length, res.Duration.Seconds(), p.AuthID,
		); err != nil {
			return 0, err
		}
	}
	return matchID, tx.Commit()
}

// GetMatchHistory returns recent matches for a player, newest first
func (db *DB) GetMatchHistory(playerID int64, limit int) ([]MatchPlayer, error) {
	rows, err := db.conn.Query(`
		SELECT mp.match_id, m.map, m.steps, mp.slot, mp.powerups, mp.deaths, mp.length, mp.won, m.created_at
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.player_id = ?
		ORDER BY m.id DESC
		LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MatchPlayer
	for rows.Next() {
		var r MatchPlayer
		if err := rows.Scan(&r.MatchID, &r.Map, &r.Steps, &r.Slot, &r.PowerUps, &r.Deaths, &r.Length, &r.Won, &r.PlayedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetLeaderboard returns top players sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"wins": "s.wins", "powerups": "s.powerups", "length": "s.best_length",
		"games": "s.games",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.wins"
	}

	query := `SELECT p.username, s.games, s.wins, s.powerups, s.deaths, s.best_length
		FROM stats s JOIN players p ON p.id = s.player_id
		WHERE s.games > 0
		ORDER BY ` + col + ` DESC, p.id ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Games, &e.Wins, &e.PowerUps, &e.Deaths, &e.BestLength); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	Username   string `json:"username"`
	Games      int    `json:"games"`
	Wins       int    `json:"wins"`
	PowerUps   int    `json:"powerups"`
	Deaths     int    `json:"deaths"`
	BestLength int    `json:"best_length"`
}
