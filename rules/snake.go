package rules

import (
	"slices"
	"sort"
)

const (
	DefaultMaxLength = 4
	RespawnDelay     = 10 // ticks

	PerkRespawn = "respawn"
)

// Snake is a player-controlled movable entity with a bounded trail of past
// cells. Trail[0] is the head once the snake has moved.
type Snake struct {
	Movable

	Trail     []Point
	MaxLength int
	Slot      int
	Marker    *RespawnMarker

	// Counters for match results.
	PowerUps int
	Deaths   int

	OnReset      Signal[*Snake]
	OnDead       Signal[*Snake]
	OnPerkAdd    Signal[string]
	OnPerkRemove Signal[string]

	turning Direction
	hasTurn bool
	perks   map[string]int // perk name -> expiry step
}

// NewSnake creates an unregistered snake on a random free cell facing right.
func NewSnake(w *World) *Snake {
	s := &Snake{
		Movable:   Movable{Object: newObject(w), Direction: Right},
		MaxLength: DefaultMaxLength,
		Slot:      -1,
		perks:     make(map[string]int),
	}
	s.Deadly = true
	p := w.RandomFreeCell()
	s.X, s.Y = p.X, p.Y

	s.OnCollision.Subscribe(s.onCollide)
	s.OnPerkAdd.Subscribe(s.onAddPerk)
	s.OnPerkRemove.Subscribe(s.onRemovePerk)
	return s
}

func (s *Snake) Kind() Kind { return KindSnake }

// Length returns the number of cells currently occupied by the trail.
func (s *Snake) Length() int { return len(s.Trail) }

// Update runs one tick: perk expiry, respawn gate, buffered turn, movement,
// wraparound and trail bookkeeping.
func (s *Snake) Update() {
	s.expirePerks()

	if s.HasPerk(PerkRespawn) {
		return
	}

	if s.hasTurn {
		s.Direction = s.turning
		s.hasTurn = false
	}

	if len(s.Trail) == 0 {
		s.Trail = append(s.Trail, s.Pos())
	}

	s.Movable.Update()
	s.wrapAround()

	s.Trail = slices.Insert(s.Trail, 0, s.Pos())
	if len(s.Trail) > s.MaxLength {
		s.Trail = s.Trail[:s.MaxLength]
	}
}

func (s *Snake) wrapAround() {
	if !s.OffBoard() {
		return
	}
	w := s.world
	if s.X < 0 {
		s.X = w.Width - 1
	} else if s.X >= w.Width {
		s.X = 0
	}
	if s.Y < 0 {
		s.Y = w.Height - 1
	} else if s.Y >= w.Height {
		s.Y = 0
	}
}

// Input buffers a turn for the next tick. It returns false for unknown
// commands, the current heading and its reverse.
func (s *Snake) Input(cmd string) bool {
	d, ok := ParseDirection(cmd)
	if !ok {
		return false
	}
	if d == s.Direction || d == s.Direction.Opposite() {
		return false
	}
	s.turning = d
	s.hasTurn = true
	return true
}

// PendingTurn returns the buffered turn, if any.
func (s *Snake) PendingTurn() (Direction, bool) {
	return s.turning, s.hasTurn
}

// IsCollideWith reports whether s and other share a cell. With crosscheck
// the test is repeated once with the roles swapped.
func (s *Snake) IsCollideWith(other Entity, crosscheck bool) bool {
	return collides(s, other, crosscheck)
}

func collides(a, b Entity, crosscheck bool) bool {
	var hit bool
	if s, ok := a.(*Snake); ok {
		hit = s.touches(b)
	} else {
		hit = a.Base().Pos() == b.Base().Pos()
	}
	if hit || !crosscheck {
		return hit
	}
	return collides(b, a, false)
}

// touches checks one direction only: our head against another snake's trail,
// or another object against our trail.
func (s *Snake) touches(other Entity) bool {
	target := s.Trail
	subject := other.Base().Pos()
	if o, ok := other.(*Snake); ok {
		target = o.Trail
		if o == s {
			target = nil
			if len(s.Trail) > 1 {
				target = s.Trail[1:]
			}
		}
		subject = s.Pos()
	}
	return slices.Contains(target, subject)
}

func (s *Snake) onCollide(target Entity) {
	if s.Hidden {
		return
	}
	if other, ok := target.(*Snake); ok {
		if s.X == other.X && s.Y == other.Y {
			// head on head
			s.Die(false)
			if other != s {
				other.Die(false)
			}
			return
		}
		if !s.touches(other) {
			// the other head ran into us; its own handler deals with it
			return
		}
	}
	if target.Base().Deadly {
		s.Die(false)
	}
	switch t := target.(type) {
	case *PerkPowerUp:
		s.MaxLength += t.Growth
		s.PowerUps++
		s.AddPerk(t.Perk, t.Duration)
	case *PowerUp:
		s.MaxLength += t.Growth
		s.PowerUps++
	}
}

// Die resets the snake and starts the respawn countdown. OnDead is
// skipped when suppress is set.
func (s *Snake) Die(suppress bool) {
	s.Reset()
	s.AddPerk(PerkRespawn, RespawnDelay)
	s.Deaths++
	if !suppress {
		s.OnDead.Emit(s)
	}
}

// Reset restores the default length, clears the trail and moves the
// snake to a random free cell.
func (s *Snake) Reset() {
	s.MaxLength = DefaultMaxLength
	s.Trail = nil
	p := s.world.RandomFreeCell()
	s.X, s.Y = p.X, p.Y
	s.OnReset.Emit(s)
}

// Cleanup removes the snake and its respawn marker from the world.
func (s *Snake) Cleanup() {
	if s.Marker != nil {
		s.Marker.Remove()
		s.Marker = nil
	}
	s.Remove()
}

// AddPerk grants perk for duration ticks from the current step.
func (s *Snake) AddPerk(name string, duration int) {
	s.perks[name] = s.world.CurrentStep + duration
	s.OnPerkAdd.Emit(name)
}

// HasPerk reports whether the perk is still running.
func (s *Snake) HasPerk(name string) bool {
	expiry, ok := s.perks[name]
	return ok && expiry-s.world.CurrentStep > 0
}

// PerkExpiry is a perk name with the step it runs out on.
type PerkExpiry struct {
	Name   string `json:"name" msgpack:"name"`
	Expiry int    `json:"expiry" msgpack:"expiry"`
}

// Perks returns the perk table ordered by name.
func (s *Snake) Perks() []PerkExpiry {
	out := make([]PerkExpiry, 0, len(s.perks))
	for name, expiry := range s.perks {
		out = append(out, PerkExpiry{Name: name, Expiry: expiry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Snake) expirePerks() {
	for _, p := range s.Perks() {
		if p.Expiry-s.world.CurrentStep <= 0 {
			delete(s.perks, p.Name)
			s.OnPerkRemove.Emit(p.Name)
		}
	}
}

func (s *Snake) onAddPerk(name string) {
	switch name {
	case PerkRespawn:
		s.Hidden = true
		s.Direction = Stop
		s.attachMarker()
	}
}

func (s *Snake) onRemovePerk(name string) {
	switch name {
	case PerkRespawn:
		s.respawn()
	}
}

func (s *Snake) attachMarker() {
	if s.Marker == nil {
		s.Marker = NewRespawnMarker(s.world, s)
		s.world.Add(s.Marker)
	}
	s.Marker.follow()
}

func (s *Snake) respawn() {
	if s.Marker != nil {
		s.Marker.Remove()
		s.Marker = nil
	}
	s.Hidden = false
	if s.hasTurn {
		s.Direction = s.turning
	} else {
		s.Direction = Right
	}
}
