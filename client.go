package main

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"snake-server/rules"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
	maxLobbyNameLen   = 30
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	memberID   string // roster id inside the current lobby
	lobbyID    string
	remoteAddr string
	binary     bool // server messages go out as msgpack
	msgCount   int
	msgResetAt time.Time
	identity   Identity // zero until register, login, guest or auth
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, binary bool) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		binary:     binary,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		// Binary input: [0x01, direction]
		if msgType == websocket.BinaryMessage {
			if len(message) == 2 && message[0] == 0x01 {
				c.handleBinaryInput(message)
			}
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
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

// Send encodes msg in the codec the client asked for on connect.
func (c *Client) Send(msg interface{}) {
	if c.binary {
		data, err := msgpack.Marshal(msg)
		if err != nil {
			log.Printf("msgpack marshal error: %v", err)
			return
		}
		c.SendBinary(data)
		return
	}
	c.SendJSON(msg)
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(text string) {
	c.Send(Envelope{T: MsgError, Data: ErrorMsg{Msg: text}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgInput:
		c.handleInput(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgCheck:
		c.handleCheck(env.D)
	case MsgStart:
		c.handleStart()
	case MsgReady:
		c.handleReady(env.D)
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgGuest:
		c.handleGuest(env.D)
	case MsgProfile:
		c.handleProfile()
	}
}

func (c *Client) lobby() *Lobby {
	if c.lobbyID == "" || c.memberID == "" {
		return nil
	}
	return c.hub.lobbies.Get(c.lobbyID)
}

func (c *Client) displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.identity.Name
	}
	if name == "" {
		name = GenerateGuestName()
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func (c *Client) handleList() {
	c.Send(Envelope{T: MsgSessions, Data: c.hub.lobbies.List()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sname := strings.TrimSpace(msg.SessionName)
	if sname == "" {
		sname = "Snake Pit"
	}
	if len(sname) > maxLobbyNameLen {
		sname = sname[:maxLobbyNameLen]
	}

	l, err := c.hub.lobbies.Create(sname, msg.Map)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.reportLobbies()
	c.Send(Envelope{T: MsgCreated, Data: map[string]string{"sid": l.ID(), "map": l.MapName()}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	l := c.hub.lobbies.Get(msg.SessionID)
	if l == nil {
		c.sendError("lobby not found")
		return
	}
	if c.lobbyID != "" && c.lobbyID != l.ID() {
		// stay where we are if the new lobby would refuse us
		if err := l.CanJoin(); err != nil {
			c.sendError(err.Error())
			return
		}
	}
	if c.lobbyID != "" {
		c.handleLeave()
	}

	id, err := l.AddClient(c.displayName(msg.Name), c.identity.PlayerID, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.lobbies.MarkActive(l.ID())
	c.lobbyID = l.ID()
	c.memberID = id
}

// handleBinaryInput decodes [0x01, direction]
func (c *Client) handleBinaryInput(msg []byte) {
	l := c.lobby()
	if l == nil {
		return
	}
	l.Input(c.memberID, rules.Direction(msg[1]).String())
}

func (c *Client) handleInput(data json.RawMessage) {
	l := c.lobby()
	if l == nil {
		return
	}
	var msg InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	l.Input(c.memberID, msg.Cmd)
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	l := c.hub.lobbies.Get(msg.SID)
	if l == nil {
		c.Send(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	info := l.Info()
	c.Send(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    info.Name,
		State:   info.State,
		Players: info.Players,
	}})
}

func (c *Client) handleLeave() {
	if c.lobbyID == "" {
		return
	}
	c.hub.lobbies.RemoveClient(c.lobbyID, c.memberID)
	c.lobbyID = ""
	c.memberID = ""
}

func (c *Client) handleStart() {
	l := c.lobby()
	if l == nil {
		return
	}
	if err := l.StartGame(); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleReady(data json.RawMessage) {
	l := c.lobby()
	if l == nil {
		return
	}
	ready := true
	if len(data) > 0 {
		var msg ReadyMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Ready != nil {
			ready = *msg.Ready
		}
	}
	l.SetReady(c.memberID, ready)
}

func (c *Client) handleRegister(data json.RawMessage) {
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.authenticated(c.hub.auth.Register(msg.Username, msg.Password))
}

func (c *Client) handleLogin(data json.RawMessage) {
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.authenticated(c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr))
}

// handleGuest hands out a guest token so a reconnect keeps the same name.
func (c *Client) handleGuest(data json.RawMessage) {
	var msg GuestMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	c.authenticated(c.hub.auth.Guest(msg.Name))
}

func (c *Client) handleAuth(data json.RawMessage) {
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, err := c.hub.auth.Validate(msg.Token)
	c.authenticated(id, msg.Token, err)
}

func (c *Client) authenticated(id Identity, token string, err error) {
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.identity = id
	c.hub.track(EvtLogin, id.PlayerID, "")
	c.Send(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: id.Name,
		PlayerID: id.PlayerID,
		Ranked:   id.Ranked(),
	}})
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || !c.identity.Ranked() {
		c.sendError("not authenticated")
		return
	}
	stats, err := c.hub.db.GetStats(c.identity.PlayerID)
	if err != nil || stats == nil {
		c.sendError("profile not found")
		return
	}
	recent, err := c.hub.db.GetMatchHistory(c.identity.PlayerID, 10)
	if err != nil {
		log.Printf("profile %d: match history: %v", c.identity.PlayerID, err)
	}
	c.Send(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username:   c.identity.Name,
		Games:      stats.Games,
		Wins:       stats.Wins,
		PowerUps:   stats.PowerUps,
		Deaths:     stats.Deaths,
		BestLength: stats.BestLength,
		Playtime:   stats.Playtime,
		Recent:     recent,
	}})
}
