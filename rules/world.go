package rules

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
)

const (
	DefaultWidth        = 30
	DefaultHeight       = 20
	DefaultUpdateRate   = 500 // ms
	DefaultPowerUpToEnd = 5

	maxFreeCellTries = 64
)

// Status is the world's game state.
type Status int

const (
	Prepare Status = iota
	InProgress
	End
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case End:
		return "end"
	}
	return "prepare"
}

// World owns every entity of one game and advances them tick by tick.
type World struct {
	Width            int
	Height           int
	UpdateRate       int // ms between ticks
	CurrentStep      int
	Status           Status
	PowerUpCollected int
	PowerUpToEnd     int
	Map              string

	OnStep        Signal[*World]
	OnStateLoaded Signal[*World]
	OnEnd         Signal[*World]
	OnSnakeDead   Signal[*Snake]

	objects  *orderedmap.OrderedMap[int, Entity]
	snakes   *orderedmap.OrderedMap[int, *Snake]
	nextID   int
	nextSlot int
	mapDef   *MapDef

	pcg *rand.PCG
	rng *rand.Rand

	broad   *grid
	scratch *grid
}

// Option configures a new World.
type Option func(*World)

// WithSize sets the board size in cells.
func WithSize(width, height int) Option {
	return func(w *World) {
		w.Width, w.Height = width, height
	}
}

// WithUpdateRate sets the minimum interval between ticks in milliseconds.
func WithUpdateRate(ms int) Option {
	return func(w *World) { w.UpdateRate = ms }
}

// WithPowerUpToEnd sets how many collected power-ups end the game.
func WithPowerUpToEnd(n int) Option {
	return func(w *World) { w.PowerUpToEnd = n }
}

// WithSeed makes random placement reproducible.
func WithSeed(seed uint64) Option {
	return func(w *World) {
		w.pcg.Seed(seed, seed^0x9e3779b97f4a7c15)
	}
}

// NewWorld creates an empty world in the Prepare state.
func NewWorld(opts ...Option) *World {
	w := &World{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		UpdateRate:   DefaultUpdateRate,
		PowerUpToEnd: DefaultPowerUpToEnd,
		objects:      orderedmap.NewOrderedMap[int, Entity](),
		snakes:       orderedmap.NewOrderedMap[int, *Snake](),
		pcg:          rand.NewPCG(rand.Uint64(), rand.Uint64()),
	}
	w.rng = rand.New(w.pcg)
	for _, opt := range opts {
		opt(w)
	}
	w.broad = newGrid(w.Width, w.Height)
	w.scratch = newGrid(w.Width, w.Height)
	return w
}

// Add registers an entity created for this world.
func (w *World) Add(e Entity) {
	o := e.Base()
	o.world = w
	o.removed = false
	o.ID = w.nextID
	w.nextID++
	w.objects.Set(o.ID, e)
}

func (w *World) remove(o *Object) {
	o.removed = true
	e, ok := w.objects.Get(o.ID)
	if !ok {
		return
	}
	w.objects.Delete(o.ID)
	if s, ok := e.(*Snake); ok {
		if cur, ok := w.snakes.Get(s.Slot); ok && cur == s {
			w.snakes.Delete(s.Slot)
		}
	}
}

// AddSnake creates a snake in the next free slot.
func (w *World) AddSnake() *Snake {
	return w.addSnakeAt(w.nextSlot)
}

func (w *World) addSnakeAt(slot int) *Snake {
	s := NewSnake(w)
	s.Slot = slot
	if slot >= w.nextSlot {
		w.nextSlot = slot + 1
	}
	w.Add(s)
	w.trackSnake(s)
	return s
}

func (w *World) trackSnake(s *Snake) {
	w.snakes.Set(s.Slot, s)
	s.OnDead.Subscribe(func(s *Snake) { w.OnSnakeDead.Emit(s) })
}

// Snake returns the snake in slot, or nil.
func (w *World) Snake(slot int) *Snake {
	s, _ := w.snakes.Get(slot)
	return s
}

// RemoveSnake cleans up the snake in slot. It reports whether one existed.
func (w *World) RemoveSnake(slot int) bool {
	s := w.Snake(slot)
	if s == nil {
		return false
	}
	s.Cleanup()
	return true
}

// Input forwards a command to the snake in slot. Unknown slots are ignored.
func (w *World) Input(slot int, cmd string) bool {
	s := w.Snake(slot)
	if s == nil {
		return false
	}
	return s.Input(cmd)
}

// Objects returns the live entities in registry order.
func (w *World) Objects() []Entity {
	out := make([]Entity, 0, w.objects.Len())
	for el := w.objects.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// Snakes returns the live snakes in slot order.
func (w *World) Snakes() []*Snake {
	out := make([]*Snake, 0, w.snakes.Len())
	for el := w.snakes.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Step advances the world by one tick: every entity updates in registry
// order, then collisions are resolved and OnStep fires.
func (w *World) Step() {
	w.CurrentStep++
	for _, e := range w.Objects() {
		if e.Base().removed {
			continue
		}
		e.Update()
	}
	w.detectCollisions()
	w.OnStep.Emit(w)
}

// detectCollisions fires OnCollision on both sides of every coinciding pair,
// once per pair, lower registry position first. Snakes are also checked
// against their own body.
func (w *World) detectCollisions() {
	list := w.Objects()
	w.broad.resize(w.Width, w.Height)
	w.broad.fill(list)

	seen := make(map[[2]int]struct{})
	var pairs [][2]int
	for i, e := range list {
		if !collidable(e) {
			continue
		}
		for _, p := range cellsOf(e) {
			for _, j := range w.broad.Query(p) {
				if j <= i {
					continue
				}
				key := [2]int{i, j}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				pairs = append(pairs, key)
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a][0] != pairs[b][0] {
			return pairs[a][0] < pairs[b][0]
		}
		return pairs[a][1] < pairs[b][1]
	})

	for _, pr := range pairs {
		a, b := list[pr[0]], list[pr[1]]
		if !collidable(a) || !collidable(b) {
			continue
		}
		if !collides(a, b, true) {
			continue
		}
		a.Base().OnCollision.Emit(b)
		b.Base().OnCollision.Emit(a)
	}

	for _, e := range list {
		s, ok := e.(*Snake)
		if !ok || !collidable(s) {
			continue
		}
		if s.touches(s) {
			s.OnCollision.Emit(s)
		}
	}
}

// collected is called once per power-up picked up during a tick.
func (w *World) collected(e Entity) {
	w.PowerUpCollected++
	if w.Status != InProgress {
		return
	}
	if w.PowerUpCollected >= w.PowerUpToEnd {
		w.Status = End
		w.OnEnd.Emit(w)
		return
	}
	if w.mapDef != nil && w.mapDef.RespawnPowerUps {
		w.respawnPowerUp(e)
	}
}

func (w *World) respawnPowerUp(e Entity) {
	p, ok := w.freeCell()
	if !ok {
		return
	}
	switch old := e.(type) {
	case *PerkPowerUp:
		n := NewPerkPowerUp(w, p.X, p.Y, old.Perk, old.Duration)
		n.Growth, n.Deadly = old.Growth, old.Deadly
		w.Add(n)
	case *PowerUp:
		n := NewPowerUp(w, p.X, p.Y)
		n.Growth, n.Deadly = old.Growth, old.Deadly
		w.Add(n)
	}
}

// RandomFreeCell picks a random cell nothing occupies. On a completely full
// board it returns a random cell.
func (w *World) RandomFreeCell() Point {
	if p, ok := w.freeCell(); ok {
		return p
	}
	return w.randomCell()
}

// freeCell samples random cells and then scans the board row by row from a
// random start, so a crowded board never yields an occupied cell.
func (w *World) freeCell() (Point, bool) {
	w.scratch.resize(w.Width, w.Height)
	w.scratch.fill(w.Objects())
	for i := 0; i < maxFreeCellTries; i++ {
		p := w.randomCell()
		if !w.scratch.Occupied(p) {
			return p, true
		}
	}
	n := w.Width * w.Height
	if n <= 0 {
		return Point{}, false
	}
	start := w.rng.IntN(n)
	for i := 0; i < n; i++ {
		k := (start + i) % n
		p := Point{X: k % w.Width, Y: k / w.Width}
		if !w.scratch.Occupied(p) {
			return p, true
		}
	}
	return Point{}, false
}

func (w *World) randomCell() Point {
	return Point{X: w.rng.IntN(max(w.Width, 1)), Y: w.rng.IntN(max(w.Height, 1))}
}

// LoadMap places the layout registered under name and starts the game.
func (w *World) LoadMap(name string) error {
	def, ok := LookupMap(name)
	if !ok {
		return fmt.Errorf("rules: unknown map %q", name)
	}
	return w.ApplyMap(def)
}

// ApplyMap places a layout and moves the world to InProgress.
func (w *World) ApplyMap(def *MapDef) error {
	if err := def.validateFor(w.Width, w.Height); err != nil {
		return err
	}
	if def.Width > 0 && def.Height > 0 {
		w.Width, w.Height = def.Width, def.Height
	}
	w.Map = def.Name
	w.mapDef = def

	if def.Border {
		for x := 0; x < w.Width; x++ {
			w.Add(NewWall(w, x, 0))
			w.Add(NewWall(w, x, w.Height-1))
		}
		for y := 1; y < w.Height-1; y++ {
			w.Add(NewWall(w, 0, y))
			w.Add(NewWall(w, w.Width-1, y))
		}
	}
	for _, p := range def.Walls {
		w.Add(NewWall(w, p.X, p.Y))
	}
	for _, it := range def.Items {
		x, y := it.X, it.Y
		if x < 0 || y < 0 {
			p, ok := w.freeCell()
			if !ok {
				return fmt.Errorf("rules: map %q: no free cell for item", def.Name)
			}
			x, y = p.X, p.Y
		}
		w.Add(it.build(w, x, y))
	}
	w.Status = InProgress
	return nil
}
