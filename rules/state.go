package rules

import (
	"fmt"
	"slices"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// GameState is everything a client needs to rebuild the world.
type GameState struct {
	State            Status        `json:"state" msgpack:"state"`
	Map              string        `json:"map" msgpack:"map"`
	Width            int           `json:"width" msgpack:"width"`
	Height           int           `json:"height" msgpack:"height"`
	UpdateRate       int           `json:"updateRate" msgpack:"updateRate"`
	Step             int           `json:"step" msgpack:"step"`
	PowerUpCollected int           `json:"powerUpCollected" msgpack:"powerUpCollected"`
	PowerUpToEnd     int           `json:"powerUpToEnd" msgpack:"powerUpToEnd"`
	NextID           int           `json:"nextId" msgpack:"nextId"`
	NextSlot         int           `json:"nextSlot" msgpack:"nextSlot"`
	RNG              []byte        `json:"rng" msgpack:"rng"`
	Snakes           []SnakeState  `json:"snakes" msgpack:"snakes"`
	Objects          []ObjectState `json:"objects" msgpack:"objects"`
}

// SnakeState is one snake in a snapshot.
type SnakeState struct {
	ID        int          `json:"id" msgpack:"id"`
	Slot      int          `json:"index" msgpack:"index"`
	X         int          `json:"x" msgpack:"x"`
	Y         int          `json:"y" msgpack:"y"`
	Direction Direction    `json:"direction" msgpack:"direction"`
	Turning   Direction    `json:"turning,omitempty" msgpack:"turning,omitempty"`
	Hidden    bool         `json:"hidden" msgpack:"hidden"`
	Positions []Point      `json:"positions" msgpack:"positions"`
	MaxLength int          `json:"maxLength" msgpack:"maxLength"`
	Perks     []PerkExpiry `json:"perks" msgpack:"perks"`
	PowerUps  int          `json:"powerUps" msgpack:"powerUps"`
	Deaths    int          `json:"deaths" msgpack:"deaths"`
}

// ObjectState is any non-snake entity in a snapshot.
type ObjectState struct {
	ID       int    `json:"id" msgpack:"id"`
	Kind     Kind   `json:"cls" msgpack:"cls"`
	X        int    `json:"x" msgpack:"x"`
	Y        int    `json:"y" msgpack:"y"`
	Deadly   bool   `json:"deadly" msgpack:"deadly"`
	Hidden   bool   `json:"hidden" msgpack:"hidden"`
	Growth   int    `json:"growth,omitempty" msgpack:"growth,omitempty"`
	Perk     string `json:"perk,omitempty" msgpack:"perk,omitempty"`
	Duration int    `json:"perkTime,omitempty" msgpack:"perkTime,omitempty"`
	Slot     int    `json:"index,omitempty" msgpack:"index,omitempty"` // snake bound to a marker
}

// State captures the world as a snapshot.
func (w *World) State() GameState {
	rng, _ := w.pcg.MarshalBinary()
	st := GameState{
		State:            w.Status,
		Map:              w.Map,
		Width:            w.Width,
		Height:           w.Height,
		UpdateRate:       w.UpdateRate,
		Step:             w.CurrentStep,
		PowerUpCollected: w.PowerUpCollected,
		PowerUpToEnd:     w.PowerUpToEnd,
		NextID:           w.nextID,
		NextSlot:         w.nextSlot,
		RNG:              rng,
		Snakes:           []SnakeState{},
		Objects:          []ObjectState{},
	}
	for _, e := range w.Objects() {
		o := e.Base()
		switch v := e.(type) {
		case *Snake:
			turning, ok := v.PendingTurn()
			if !ok {
				turning = Stop
			}
			st.Snakes = append(st.Snakes, SnakeState{
				ID:        o.ID,
				Slot:      v.Slot,
				X:         o.X,
				Y:         o.Y,
				Direction: v.Direction,
				Turning:   turning,
				Hidden:    o.Hidden,
				Positions: slices.Clone(v.Trail),
				MaxLength: v.MaxLength,
				Perks:     v.Perks(),
				PowerUps:  v.PowerUps,
				Deaths:    v.Deaths,
			})
			continue
		}
		os := ObjectState{ID: o.ID, Kind: e.Kind(), X: o.X, Y: o.Y, Deadly: o.Deadly, Hidden: o.Hidden}
		switch v := e.(type) {
		case *PerkPowerUp:
			os.Growth, os.Perk, os.Duration = v.Growth, v.Perk, v.Duration
		case *PowerUp:
			os.Growth = v.Growth
		case *RespawnMarker:
			os.Slot = v.Snake.Slot
		}
		st.Objects = append(st.Objects, os)
	}
	return st
}

// LoadState replaces the whole world with a snapshot and fires
// OnStateLoaded.
func (w *World) LoadState(st GameState) error {
	if st.Width <= 0 || st.Height <= 0 {
		return fmt.Errorf("rules: snapshot with board %dx%d", st.Width, st.Height)
	}
	if len(st.RNG) > 0 {
		if err := w.pcg.UnmarshalBinary(st.RNG); err != nil {
			return fmt.Errorf("rules: snapshot rng: %w", err)
		}
	}
	def, _ := LookupMap(st.Map)

	w.Status = st.State
	w.Map = st.Map
	w.mapDef = def
	w.Width, w.Height = st.Width, st.Height
	w.UpdateRate = st.UpdateRate
	w.CurrentStep = st.Step
	w.PowerUpCollected = st.PowerUpCollected
	w.PowerUpToEnd = st.PowerUpToEnd
	w.nextSlot = st.NextSlot
	for _, e := range w.Objects() {
		e.Base().removed = true
	}
	w.objects = orderedmap.NewOrderedMap[int, Entity]()
	w.snakes = orderedmap.NewOrderedMap[int, *Snake]()

	type loaded struct {
		id int
		e  Entity
	}
	var all []loaded
	bySlot := make(map[int]*Snake)
	for _, ss := range st.Snakes {
		s := &Snake{
			Movable:   Movable{Object: newObject(w), Direction: ss.Direction},
			Trail:     slices.Clone(ss.Positions),
			MaxLength: ss.MaxLength,
			Slot:      ss.Slot,
			PowerUps:  ss.PowerUps,
			Deaths:    ss.Deaths,
			perks:     make(map[string]int, len(ss.Perks)),
		}
		s.X, s.Y, s.Hidden, s.Deadly = ss.X, ss.Y, ss.Hidden, true
		if ss.Turning != Stop {
			s.turning, s.hasTurn = ss.Turning, true
		}
		for _, p := range ss.Perks {
			s.perks[p.Name] = p.Expiry
		}
		s.OnCollision.Subscribe(s.onCollide)
		s.OnPerkAdd.Subscribe(s.onAddPerk)
		s.OnPerkRemove.Subscribe(s.onRemovePerk)
		bySlot[s.Slot] = s
		all = append(all, loaded{ss.ID, s})
	}
	for _, os := range st.Objects {
		var e Entity
		switch os.Kind {
		case KindPowerUp:
			p := NewPowerUp(w, os.X, os.Y)
			p.Growth = os.Growth
			e = p
		case KindPerk:
			p := NewPerkPowerUp(w, os.X, os.Y, os.Perk, os.Duration)
			p.Growth = os.Growth
			e = p
		case KindWall:
			e = NewWall(w, os.X, os.Y)
		case KindMarker:
			s, ok := bySlot[os.Slot]
			if !ok {
				return fmt.Errorf("rules: marker %d bound to missing snake %d", os.ID, os.Slot)
			}
			m := NewRespawnMarker(w, s)
			s.Marker = m
			e = m
		default:
			e = NewObject(w, os.X, os.Y)
		}
		b := e.Base()
		b.X, b.Y, b.Deadly, b.Hidden = os.X, os.Y, os.Deadly, os.Hidden
		all = append(all, loaded{os.ID, e})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	for _, l := range all {
		b := l.e.Base()
		b.ID = l.id
		w.objects.Set(l.id, l.e)
		if s, ok := l.e.(*Snake); ok {
			w.trackSnake(s)
		}
	}
	w.nextID = st.NextID

	w.OnStateLoaded.Emit(w)
	return nil
}

// Hash is an xxh3 digest of the msgpack-encoded snapshot. Two worlds that
// went through the same commands hash the same.
func (w *World) Hash() uint64 {
	b, err := msgpack.Marshal(w.State())
	if err != nil {
		return 0
	}
	return xxh3.Hash(b)
}
