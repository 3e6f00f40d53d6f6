package main

import (
	"encoding/json"

	"snake-server/rules"
)

// Client -> Server message types
const (
	MsgJoin     = "join"
	MsgLeave    = "leave"
	MsgInput    = "input"
	MsgCreate   = "create" // create lobby
	MsgList     = "list"   // list lobbies
	MsgCheck    = "check"  // check if lobby exists
	MsgStart    = "start"
	MsgReady    = "ready"
	MsgRegister = "register"
	MsgLogin    = "login"
	MsgAuth     = "auth"
	MsgGuest    = "guest"
	MsgProfile  = "profile"
)

// Server -> Client message types
const (
	MsgState       = "state" // full snapshot
	MsgDelta       = "delta" // commands since the previous broadcast
	MsgSessions    = "sessions"
	MsgJoined      = "joined"
	MsgCreated     = "created" // lobby created, client should navigate
	MsgError       = "error"
	MsgChecked     = "checked"
	MsgAuthOK      = "auth_ok"
	MsgProfileData = "profile"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t" msgpack:"t"`
	Data interface{} `json:"d,omitempty" msgpack:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// StateMsg is the full snapshot. Game is absent until the lobby starts.
type StateMsg struct {
	Lobby   string           `json:"lobby" msgpack:"lobby"`
	State   string           `json:"state" msgpack:"state"`
	Players []PlayerInfo     `json:"players" msgpack:"players"`
	Game    *rules.GameState `json:"game,omitempty" msgpack:"game,omitempty"`
}

// DeltaMsg follows every tick. Replaying Cmd and stepping once on the last
// full snapshot must reproduce Hash.
type DeltaMsg struct {
	Lobby string          `json:"lobby" msgpack:"lobby"`
	State string          `json:"state" msgpack:"state"`
	Step  int             `json:"step" msgpack:"step"`
	Hash  string          `json:"hash" msgpack:"hash"`
	Cmd   []rules.Command `json:"cmd" msgpack:"cmd"`
}

// PlayerInfo is one roster entry
type PlayerInfo struct {
	ID    string `json:"id" msgpack:"id"`
	Name  string `json:"name" msgpack:"name"`
	Slot  int    `json:"slot" msgpack:"slot"` // -1 before the game starts
	Ready bool   `json:"ready" msgpack:"ready"`
}

// JoinMsg is sent when player wants to join a lobby
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
}

// JoinedMsg confirms a join and tells the client its roster id
type JoinedMsg struct {
	SID string `json:"sid" msgpack:"sid"`
	PID string `json:"pid" msgpack:"pid"`
}

// CreateMsg is sent when player wants to create a lobby
type CreateMsg struct {
	Name        string `json:"name"`
	SessionName string `json:"sname"`
	Map         string `json:"map"`
}

// InputMsg carries one direction command
type InputMsg struct {
	Cmd string `json:"cmd"`
}

// ReadyMsg toggles the sender's ready flag. Missing means ready.
type ReadyMsg struct {
	Ready *bool `json:"ready"`
}

// SessionInfo is used in the lobby list
type SessionInfo struct {
	ID      string `json:"id" msgpack:"id"`
	Name    string `json:"name" msgpack:"name"`
	Map     string `json:"map" msgpack:"map"`
	State   string `json:"state" msgpack:"state"`
	Players int    `json:"players" msgpack:"players"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg" msgpack:"msg"`
}

// CheckMsg is sent by client to check if a lobby exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg is the response to a lobby check
type CheckedMsg struct {
	SID     string `json:"sid" msgpack:"sid"`
	Exists  bool   `json:"exists" msgpack:"exists"`
	Name    string `json:"name,omitempty" msgpack:"name,omitempty"`
	State   string `json:"state,omitempty" msgpack:"state,omitempty"`
	Players int    `json:"players,omitempty" msgpack:"players,omitempty"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates with username and password
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg resumes a session from a stored token
type AuthMsg struct {
	Token string `json:"token"`
}

// GuestMsg asks for a guest token, optionally with a preferred name
type GuestMsg struct {
	Name string `json:"name"`
}

// AuthOKMsg is sent after any successful authentication. Ranked is false
// for guests, whose matches are not recorded.
type AuthOKMsg struct {
	Token    string `json:"token" msgpack:"token"`
	Username string `json:"username" msgpack:"username"`
	PlayerID int64  `json:"pid" msgpack:"pid"`
	Ranked   bool   `json:"ranked" msgpack:"ranked"`
}

// ProfileDataMsg answers a profile request
type ProfileDataMsg struct {
	Username   string        `json:"username" msgpack:"username"`
	Games      int           `json:"games" msgpack:"games"`
	Wins       int           `json:"wins" msgpack:"wins"`
	PowerUps   int           `json:"powerups" msgpack:"powerups"`
	Deaths     int           `json:"deaths" msgpack:"deaths"`
	BestLength int           `json:"best_length" msgpack:"best_length"`
	Playtime   float64       `json:"playtime" msgpack:"playtime"`
	Recent     []MatchPlayer `json:"recent" msgpack:"recent"`
}
