package main

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBSettings(t *testing.T) {
	db := openTestDB(t)

	v, err := db.GetSetting("missing")
	if err != nil || v != "" {
		t.Errorf("missing setting = %q, %v", v, err)
	}
	if err := db.SetSetting("k", "one"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting("k", "two"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetSetting("k"); v != "two" {
		t.Errorf("setting = %q, want two", v)
	}
}

func TestDBPlayers(t *testing.T) {
	db := openTestDB(t)

	id, err := db.CreatePlayer("slither", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreatePlayer("slither", "other"); err == nil {
		t.Error("duplicate username should fail")
	}

	p, err := db.GetPlayerByUsername("slither")
	if err != nil || p == nil || p.ID != id || p.PassHash != "hash" {
		t.Fatalf("by username = %+v, %v", p, err)
	}
	if p, _ := db.GetPlayerByID(id); p == nil || p.Username != "slither" {
		t.Errorf("by id = %+v", p)
	}
	if p, err := db.GetPlayerByUsername("nobody"); p != nil || err != nil {
		t.Errorf("unknown player = %+v, %v", p, err)
	}
	if ok, _ := db.UsernameExists("slither"); !ok {
		t.Error("username should exist")
	}

	s, err := db.GetStats(id)
	if err != nil || s == nil || s.Games != 0 {
		t.Errorf("fresh stats = %+v, %v", s, err)
	}
}

func TestDBRecordMatch(t *testing.T) {
	db := openTestDB(t)
	a, _ := db.CreatePlayer("adder", "x")
	b, _ := db.CreatePlayer("boa", "x")

	res := MatchResult{
		LobbyID:  "l1",
		Map:      "plain",
		Steps:    120,
		Duration: 60 * time.Second,
		Players: []PlayerResult{
			{Name: "adder", AuthID: a, Slot: 0, PowerUps: 3, Deaths: 1, Length: 7},
			{Name: "boa", AuthID: b, Slot: 1, PowerUps: 2, Deaths: 0, Length: 6},
			{Name: "Guest_abc", Slot: 2, PowerUps: 0, Deaths: 4, Length: 4},
		},
		Winner: 0,
	}
	matchID, err := db.RecordMatch(res)
	if err != nil {
		t.Fatal(err)
	}
	if matchID == 0 {
		t.Error("match id should be set")
	}

	sa, _ := db.GetStats(a)
	if sa.Games != 1 || sa.Wins != 1 || sa.PowerUps != 3 || sa.Deaths != 1 || sa.BestLength != 7 || sa.Playtime != 60 {
		t.Errorf("winner stats = %+v", sa)
	}
	sb, _ := db.GetStats(b)
	if sb.Games != 1 || sb.Wins != 0 || sb.BestLength != 6 {
		t.Errorf("loser stats = %+v", sb)
	}

	// best length keeps the maximum
	res.Players = res.Players[:1]
	res.Players[0].Length = 5
	res.Winner = -1
	if _, err := db.RecordMatch(res); err != nil {
		t.Fatal(err)
	}
	sa, _ = db.GetStats(a)
	if sa.Games != 2 || sa.Wins != 1 || sa.BestLength != 7 {
		t.Errorf("stats after second match = %+v", sa)
	}

	hist, err := db.GetMatchHistory(a, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want 2", len(hist))
	}
	if hist[0].Won || !hist[1].Won || hist[1].Map != "plain" || hist[1].Steps != 120 {
		t.Errorf("history = %+v", hist)
	}
}

func TestDBLeaderboard(t *testing.T) {
	db := openTestDB(t)
	a, _ := db.CreatePlayer("adder", "x")
	b, _ := db.CreatePlayer("boa", "x")
	db.CreatePlayer("idle", "x")

	db.RecordMatch(MatchResult{Map: "plain", Players: []PlayerResult{
		{AuthID: a, PowerUps: 1, Length: 9},
		{AuthID: b, PowerUps: 4, Length: 5},
	}, Winner: 1})

	top, err := db.GetLeaderboard("wins", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("leaderboard = %d rows, want 2 (players without games are hidden)", len(top))
	}
	if top[0].Username != "boa" || top[0].Rank != 1 {
		t.Errorf("top by wins = %+v", top[0])
	}

	byLength, _ := db.GetLeaderboard("length", 10)
	if byLength[0].Username != "adder" || byLength[0].BestLength != 9 {
		t.Errorf("top by length = %+v", byLength[0])
	}

	// unknown column falls back to wins
	fallback, err := db.GetLeaderboard("1; DROP TABLE players", 1)
	if err != nil || len(fallback) != 1 || fallback[0].Username != "boa" {
		t.Errorf("fallback = %+v, %v", fallback, err)
	}
}
