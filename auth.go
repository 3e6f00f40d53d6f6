package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Tokens say who a connection plays as and whether its matches count toward
// stats. Guests get signed tokens too, so a reconnecting guest keeps its
// name, but a guest token never carries a player id.

const (
	accountTokenTTL = 7 * 24 * time.Hour
	guestTokenTTL   = 24 * time.Hour
	tokenIssuer     = "snake-server"
	guestPrefix     = "Guest_"

	minPasswordLen = 4
	minUsernameLen = 2
	maxUsernameLen = 16

	loginWindow      = time.Minute
	maxLoginAttempts = 10
)

// bcryptCost is lowered by tests.
var bcryptCost = 12

var (
	errAccountsDisabled = errors.New("accounts disabled")
	errBadCredentials   = errors.New("invalid username or password")
	errLoginRateLimited = errors.New("too many login attempts, try again later")
	errUsernameTaken    = errors.New("username already taken")
	errReservedName     = errors.New("names starting with " + guestPrefix + " are reserved")
	errBadToken         = errors.New("invalid token")
)

// Identity is who a connection plays as. PlayerID is 0 for guests.
type Identity struct {
	PlayerID int64
	Name     string
}

// Ranked reports whether matches played under this identity are recorded.
func (id Identity) Ranked() bool { return id.PlayerID > 0 }

type playerClaims struct {
	Name   string `json:"usr"`
	Ranked bool   `json:"ranked"`
	jwt.RegisteredClaims
}

// Auth issues and checks player tokens. Without a database only guest
// tokens are available.
type Auth struct {
	db       *DB
	secret   []byte
	attempts *loginLimiter
}

// NewAuth creates an Auth. db may be nil.
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:       db,
		secret:   signingSecret(db),
		attempts: newLoginLimiter(loginWindow, maxLoginAttempts),
	}
}

// signingSecret reads the HMAC key from settings so tokens survive restarts.
// A missing or malformed key is replaced.
func signingSecret(db *DB) []byte {
	if db != nil {
		stored, err := db.GetSetting("jwt_secret")
		if err != nil {
			log.Printf("auth: read secret: %v", err)
		}
		if key, err := hex.DecodeString(stored); err == nil && len(key) == 32 {
			return key
		}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("auth: generate secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(key)); err != nil {
			log.Printf("auth: persist secret: %v", err)
		}
	}
	return key
}

// checkUsername trims name and checks it can appear on the roster and the
// leaderboard. The guest prefix is reserved.
func checkUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < minUsernameLen || n > maxUsernameLen {
		return "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if strings.HasPrefix(strings.ToLower(name), strings.ToLower(guestPrefix)) {
		return "", errReservedName
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return "", fmt.Errorf("username may only use letters, digits, _ and -")
		}
	}
	return name, nil
}

// Register creates an account with an empty stats row and returns a ranked
// identity and its token.
func (a *Auth) Register(username, password string) (Identity, string, error) {
	if a.db == nil {
		return Identity{}, "", errAccountsDisabled
	}
	name, err := checkUsername(username)
	if err != nil {
		return Identity{}, "", err
	}
	if len(password) < minPasswordLen {
		return Identity{}, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	taken, err := a.db.UsernameExists(name)
	if err != nil {
		log.Printf("auth: register %q: %v", name, err)
		return Identity{}, "", fmt.Errorf("database error")
	}
	if taken {
		return Identity{}, "", errUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Identity{}, "", fmt.Errorf("internal error")
	}
	pid, err := a.db.CreatePlayer(name, string(hash))
	if err != nil {
		log.Printf("auth: create %q: %v", name, err)
		return Identity{}, "", fmt.Errorf("failed to create account")
	}
	return a.issue(Identity{PlayerID: pid, Name: name})
}

// Login checks a password. Attempts are limited per remote address.
func (a *Auth) Login(username, password, addr string) (Identity, string, error) {
	if a.db == nil {
		return Identity{}, "", errAccountsDisabled
	}
	if !a.attempts.allow(addr) {
		return Identity{}, "", errLoginRateLimited
	}

	p, err := a.db.GetPlayerByUsername(strings.TrimSpace(username))
	if err != nil {
		log.Printf("auth: login %q: %v", username, err)
		return Identity{}, "", fmt.Errorf("database error")
	}
	if p == nil || p.PassHash == "" {
		return Identity{}, "", errBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PassHash), []byte(password)) != nil {
		return Identity{}, "", errBadCredentials
	}
	return a.issue(Identity{PlayerID: p.ID, Name: p.Username})
}

// Guest issues an unranked identity. An empty name picks a random guest
// name; any other name gets the guest prefix.
func (a *Auth) Guest(name string) (Identity, string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		name = GenerateGuestName()
	case !strings.HasPrefix(name, guestPrefix):
		name = guestPrefix + name
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return a.issue(Identity{Name: name})
}

// Validate checks a token and returns the identity it was issued for.
// Ranked tokens must still match an account of the same name.
func (a *Auth) Validate(token string) (Identity, error) {
	var claims playerClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return Identity{}, errBadToken
	}

	if !claims.Ranked {
		if !strings.HasPrefix(claims.Name, guestPrefix) {
			return Identity{}, errBadToken
		}
		return Identity{Name: claims.Name}, nil
	}

	pid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || pid <= 0 || a.db == nil {
		return Identity{}, errBadToken
	}
	p, err := a.db.GetPlayerByID(pid)
	if err != nil {
		log.Printf("auth: validate %d: %v", pid, err)
		return Identity{}, fmt.Errorf("database error")
	}
	if p == nil || p.Username != claims.Name {
		return Identity{}, errBadToken
	}
	return Identity{PlayerID: pid, Name: p.Username}, nil
}

func (a *Auth) issue(id Identity) (Identity, string, error) {
	ttl := guestTokenTTL
	subject := ""
	if id.Ranked() {
		ttl = accountTokenTTL
		subject = strconv.FormatInt(id.PlayerID, 10)
	}
	now := time.Now()
	claims := playerClaims{
		Name:   id.Name,
		Ranked: id.Ranked(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Identity{}, "", fmt.Errorf("internal error")
	}
	return id, signed, nil
}

// loginLimiter counts attempts per address in fixed windows.
type loginLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	seen   map[string]*loginWindowCount
}

type loginWindowCount struct {
	n     int
	until time.Time
}

func newLoginLimiter(window time.Duration, limit int) *loginLimiter {
	return &loginLimiter{window: window, limit: limit, seen: make(map[string]*loginWindowCount)}
}

func (l *loginLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.seen[addr]
	if !ok || now.After(w.until) {
		l.prune(now)
		l.seen[addr] = &loginWindowCount{n: 1, until: now.Add(l.window)}
		return true
	}
	w.n++
	return w.n <= l.limit
}

// prune drops expired windows so the map does not grow with every address.
func (l *loginLimiter) prune(now time.Time) {
	for addr, w := range l.seen {
		if now.After(w.until) {
			delete(l.seen, addr)
		}
	}
}

// GenerateGuestName creates a guest name like "Guest_a3f2c1".
func GenerateGuestName() string {
	return guestPrefix + GenerateID(3)
}
