package rules

// Kind discriminates the concrete entity types inside the world loop and in
// snapshots.
type Kind string

const (
	KindObject  Kind = "object"
	KindSnake   Kind = "snake"
	KindPowerUp Kind = "powerup"
	KindPerk    Kind = "perk"
	KindMarker  Kind = "spawn"
	KindWall    Kind = "wall"
)

// Direction is a discrete heading on the grid.
type Direction int

const (
	Stop Direction = iota
	Up
	Down
	Left
	Right
)

// Vector returns the unit step for d. Y grows downwards.
func (d Direction) Vector() (dx, dy int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// Opposite returns the reverse heading. Stop has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return Stop
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "stop"
}

// ParseDirection maps an input command to a heading.
func ParseDirection(cmd string) (Direction, bool) {
	switch cmd {
	case "up":
		return Up, true
	case "down":
		return Down, true
	case "left":
		return Left, true
	case "right":
		return Right, true
	}
	return Stop, false
}

// Point is a grid cell.
type Point struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Entity is implemented by everything that lives in a World.
type Entity interface {
	Base() *Object
	Kind() Kind
	Update()
}

// Object is the positioned part shared by every entity. The world pointer is
// a back-reference only; the World owns the entity's lifetime.
type Object struct {
	ID     int
	X, Y   int
	Deadly bool
	Hidden bool

	// OnCollision fires once per tick for every entity this one coincides with.
	OnCollision Signal[Entity]

	world   *World
	removed bool
}

func newObject(w *World) Object {
	return Object{world: w}
}

// NewObject creates a plain positioned entity. It is not registered; use
// World.Add.
func NewObject(w *World, x, y int) *Object {
	o := newObject(w)
	o.X, o.Y = x, y
	return &o
}

func (o *Object) Base() *Object { return o }
func (o *Object) Kind() Kind    { return KindObject }
func (o *Object) Update()       {}

// World returns the owning world.
func (o *Object) World() *World { return o.world }

// Pos returns the current cell.
func (o *Object) Pos() Point { return Point{o.X, o.Y} }

// Removed reports whether the entity has been dropped from its world.
func (o *Object) Removed() bool { return o.removed }

// Remove drops the entity from its world. Calling it twice is harmless.
func (o *Object) Remove() {
	if o.removed || o.world == nil {
		return
	}
	o.world.remove(o)
}

// OffBoard reports whether the position lies outside the world bounds.
func (o *Object) OffBoard() bool {
	return o.X < 0 || o.Y < 0 || o.X >= o.world.Width || o.Y >= o.world.Height
}

// Movable is a positioned entity that advances one cell per tick.
type Movable struct {
	Object
	Direction Direction
}

// Update advances one cell along Direction. Bounds are not checked here.
func (m *Movable) Update() {
	dx, dy := m.Direction.Vector()
	m.X += dx
	m.Y += dy
}

// Wall is a static deadly tile placed by map layouts.
type Wall struct {
	Object
}

// NewWall creates an unregistered wall tile.
func NewWall(w *World, x, y int) *Wall {
	wall := &Wall{Object: newObject(w)}
	wall.X, wall.Y = x, y
	wall.Deadly = true
	return wall
}

func (w *Wall) Kind() Kind { return KindWall }
