package rules

import "testing"

func TestWorldDefaults(t *testing.T) {
	w := NewWorld()
	if w.Width != 30 || w.Height != 20 {
		t.Errorf("board = %dx%d, want 30x20", w.Width, w.Height)
	}
	if w.UpdateRate != 500 {
		t.Errorf("update rate = %d, want 500", w.UpdateRate)
	}
	if w.PowerUpToEnd != 5 {
		t.Errorf("power-ups to end = %d, want 5", w.PowerUpToEnd)
	}
	if w.Status != Prepare {
		t.Errorf("status = %v, want prepare", w.Status)
	}
}

func TestWorldStepFiresOnStep(t *testing.T) {
	w := newTestWorld()
	steps := 0
	w.OnStep.Subscribe(func(w *World) { steps = w.CurrentStep })

	w.Step()
	w.Step()
	if steps != 2 {
		t.Errorf("last step seen = %d, want 2", steps)
	}
}

func TestWorldAddSnakeSlots(t *testing.T) {
	w := newTestWorld()
	a := w.AddSnake()
	b := w.AddSnake()
	if a.Slot != 0 || b.Slot != 1 {
		t.Errorf("slots = %d,%d, want 0,1", a.Slot, b.Slot)
	}
	if w.Snake(1) != b {
		t.Error("slot 1 should resolve to the second snake")
	}
	if a.ID == b.ID {
		t.Error("entity ids must be unique")
	}

	w.RemoveSnake(0)
	c := w.AddSnake()
	if c.Slot != 2 {
		t.Errorf("slot = %d, want 2 (slots are not reused)", c.Slot)
	}
	if got := w.Snakes(); len(got) != 2 || got[0] != b || got[1] != c {
		t.Error("snakes should be listed in slot order")
	}
}

func TestWorldInputUnknownSlot(t *testing.T) {
	w := newTestWorld()
	if w.Input(3, "up") {
		t.Error("input for an unknown slot should be rejected")
	}
	s := placeSnake(w, 5, 5, Right)
	if !w.Input(s.Slot, "up") {
		t.Error("input should reach the snake")
	}
	if w.Input(s.Slot, "sideways") {
		t.Error("unknown command should be rejected")
	}
}

func TestWorldCollisionFiresOncePerPair(t *testing.T) {
	w := newTestWorld()
	a := NewObject(w, 1, 1)
	b := NewObject(w, 1, 1)
	c := NewObject(w, 2, 2)
	w.Add(a)
	w.Add(b)
	w.Add(c)

	var order []string
	a.OnCollision.Subscribe(func(e Entity) {
		if e != b {
			t.Error("a should only hit b")
		}
		order = append(order, "a")
	})
	b.OnCollision.Subscribe(func(e Entity) {
		if e != a {
			t.Error("b should only hit a")
		}
		order = append(order, "b")
	})
	c.OnCollision.Subscribe(func(Entity) { t.Error("c should not collide") })

	w.Step()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("notifications = %v, want [a b]", order)
	}
}

func TestWorldHeadOnKillsBoth(t *testing.T) {
	w := newTestWorld()
	a := placeSnake(w, 4, 5, Right)
	b := placeSnake(w, 6, 5, Left)

	var died []*Snake
	w.OnSnakeDead.Subscribe(func(s *Snake) { died = append(died, s) })
	w.Step()

	if len(died) != 2 {
		t.Fatalf("deaths = %d, want 2", len(died))
	}
	for _, s := range []*Snake{a, b} {
		if !s.HasPerk(PerkRespawn) {
			t.Errorf("snake %d should be respawning", s.Slot)
		}
		if len(s.Trail) != 0 || s.MaxLength != DefaultMaxLength {
			t.Errorf("snake %d should be reset", s.Slot)
		}
		if s.Marker == nil {
			t.Errorf("snake %d should have a marker", s.Slot)
		}
	}
}

func TestWorldBodyHitKillsOnlyAttacker(t *testing.T) {
	w := newTestWorld()
	b := placeSnake(w, 5, 3, Down)
	b.Trail = []Point{{5, 3}, {5, 2}}
	a := placeSnake(w, 4, 3, Right)

	w.Step()
	// a's head lands on (5,3), which b just left behind.
	if !a.HasPerk(PerkRespawn) {
		t.Error("snake running into a body should die")
	}
	if b.HasPerk(PerkRespawn) || b.Hidden {
		t.Error("the snake that was hit should survive")
	}
	if b.Pos() != (Point{5, 4}) {
		t.Errorf("b at %v, want (5,4)", b.Pos())
	}
}

func TestWorldPowerUpGrowth(t *testing.T) {
	for _, growth := range []int{1, 5} {
		w := newTestWorld()
		s := placeSnake(w, 4, 5, Right)
		p := NewPowerUp(w, 5, 5)
		p.Growth = growth
		w.Add(p)

		w.Step()
		if s.MaxLength != DefaultMaxLength+growth {
			t.Errorf("growth %d: max length = %d, want %d", growth, s.MaxLength, DefaultMaxLength+growth)
		}
		if !p.Removed() {
			t.Errorf("growth %d: power-up should be removed", growth)
		}
		if len(w.Objects()) != 1 {
			t.Errorf("growth %d: objects = %d, want only the snake", growth, len(w.Objects()))
		}
		if s.PowerUps != 1 || w.PowerUpCollected != 1 {
			t.Errorf("growth %d: counters = %d/%d, want 1/1", growth, s.PowerUps, w.PowerUpCollected)
		}
	}
}

func TestWorldHeadOnOverPowerUp(t *testing.T) {
	w := newTestWorld()
	a := placeSnake(w, 4, 5, Right)
	b := placeSnake(w, 5, 4, Down)

	p := NewPowerUp(w, 5, 5)
	w.Add(p)

	w.Step()
	// Both heads meet on the power-up. The head-on death hides both snakes
	// before their pairs with the power-up are resolved.
	if w.PowerUpCollected != 0 || p.Removed() {
		t.Error("power-up should stay on the board")
	}
	if !a.HasPerk(PerkRespawn) || !b.HasPerk(PerkRespawn) {
		t.Error("head-on snakes should both die")
	}
}

func TestWorldPerkPowerUp(t *testing.T) {
	w := newTestWorld()
	s := placeSnake(w, 4, 5, Right)
	w.Add(NewPerkPowerUp(w, 5, 5, "ghost", 3))

	var added, removed []string
	s.OnPerkAdd.Subscribe(func(name string) { added = append(added, name) })
	s.OnPerkRemove.Subscribe(func(name string) { removed = append(removed, name) })

	w.Step()
	if !s.HasPerk("ghost") {
		t.Fatal("perk should be granted on pickup")
	}
	if len(added) != 1 || added[0] != "ghost" {
		t.Errorf("added = %v, want [ghost]", added)
	}
	if s.MaxLength != DefaultMaxLength+1 {
		t.Errorf("max length = %d, want %d", s.MaxLength, DefaultMaxLength+1)
	}

	w.Step()
	w.Step()
	if !s.HasPerk("ghost") {
		t.Error("perk should last through step 3")
	}
	w.Step()
	if s.HasPerk("ghost") {
		t.Error("perk should expire at step 4")
	}
	if len(removed) != 1 || removed[0] != "ghost" {
		t.Errorf("removed = %v, want [ghost]", removed)
	}
}

func TestWorldSelfCollision(t *testing.T) {
	w := newTestWorld()
	s := placeSnake(w, 5, 5, Up)
	s.MaxLength = 6
	// head at (5,5) heading up into (5,4), which is part of the body
	s.Trail = []Point{{5, 5}, {6, 5}, {6, 4}, {5, 4}, {4, 4}}

	w.Step()
	if !s.HasPerk(PerkRespawn) {
		t.Error("running into own body should kill")
	}
}

func TestWorldEndsAfterPowerUps(t *testing.T) {
	w := newTestWorld(WithPowerUpToEnd(2))
	if err := w.LoadMap("plain"); err != nil {
		t.Fatal(err)
	}
	if w.Status != InProgress {
		t.Fatalf("status = %v, want in_progress", w.Status)
	}
	s := w.AddSnake()

	ended := 0
	w.OnEnd.Subscribe(func(*World) { ended++ })

	for i := 0; i < 2; i++ {
		p := findPowerUp(t, w)
		s.X, s.Y = (p.X-1+w.Width)%w.Width, p.Y
		s.Direction = Right
		s.Trail = nil
		w.Step()
		if !p.Removed() {
			t.Fatalf("power-up %d not collected", i)
		}
	}

	if w.Status != End {
		t.Errorf("status = %v, want end", w.Status)
	}
	if ended != 1 {
		t.Errorf("end fired %d times, want 1", ended)
	}
	if w.PowerUpCollected != 2 {
		t.Errorf("collected = %d, want 2", w.PowerUpCollected)
	}
}

func TestWorldPowerUpIgnoresNonSnakes(t *testing.T) {
	w := newTestWorld(WithPowerUpToEnd(1))
	w.Status = InProgress
	w.Add(NewWall(w, 5, 5))
	onWall := NewPowerUp(w, 5, 5)
	w.Add(onWall)
	a, b := NewPowerUp(w, 3, 3), NewPowerUp(w, 3, 3)
	w.Add(a)
	w.Add(b)

	w.Step()
	if w.PowerUpCollected != 0 || w.Status != InProgress {
		t.Errorf("collected=%d status=%v, want 0 and in_progress", w.PowerUpCollected, w.Status)
	}
	if onWall.Removed() || a.Removed() || b.Removed() {
		t.Error("only a snake may collect a power-up")
	}

	s := placeSnake(w, 2, 3, Right)
	w.Step()
	// the snake lands on both stacked items
	if w.PowerUpCollected != 2 || w.Status != End {
		t.Errorf("collected=%d status=%v after the snake arrived", w.PowerUpCollected, w.Status)
	}
	if s.PowerUps != 2 || onWall.Removed() {
		t.Errorf("snake power-ups = %d, wall item removed = %v", s.PowerUps, onWall.Removed())
	}
}

func TestWorldHiddenSnakeCannotCollect(t *testing.T) {
	w := newTestWorld()
	w.Status = InProgress
	s := placeSnake(w, 4, 5, Right)
	p := NewPowerUp(w, 5, 5)
	w.Add(p)

	collect(p, s)
	if !p.Removed() {
		t.Fatal("a visible snake should collect")
	}

	q := NewPowerUp(w, 6, 6)
	w.Add(q)
	s.Hidden = true
	collect(q, s)
	if q.Removed() || w.PowerUpCollected != 1 {
		t.Errorf("hidden snake collected: removed=%v collected=%d", q.Removed(), w.PowerUpCollected)
	}
}

func TestWorldMapRespawnsPowerUp(t *testing.T) {
	w := newTestWorld()
	if err := w.LoadMap("plain"); err != nil {
		t.Fatal(err)
	}
	s := w.AddSnake()
	p := findPowerUp(t, w)
	s.X, s.Y = (p.X-1+w.Width)%w.Width, p.Y
	s.Direction = Right
	s.Trail = nil
	w.Step()

	next := findPowerUp(t, w)
	if next == p {
		t.Fatal("collected power-up still listed")
	}
	if next.Pos() == s.Pos() {
		t.Error("replacement should not be placed on the snake")
	}
}

func TestWorldLoadMapUnknown(t *testing.T) {
	w := newTestWorld()
	if err := w.LoadMap("no-such-map"); err == nil {
		t.Error("expected an error for an unknown map")
	}
	if w.Status != Prepare {
		t.Errorf("status = %v, want prepare", w.Status)
	}
}

func TestWorldBoxMapWallsKill(t *testing.T) {
	w := newTestWorld()
	if err := w.LoadMap("box"); err != nil {
		t.Fatal(err)
	}
	walls := 0
	for _, e := range w.Objects() {
		if e.Kind() == KindWall {
			walls++
		}
	}
	if want := 2*w.Width + 2*(w.Height-2); walls != want {
		t.Errorf("walls = %d, want %d", walls, want)
	}

	s := w.AddSnake()
	s.X, s.Y = 1, 1
	s.Direction = Up
	s.Trail = nil
	w.Step()
	if !s.HasPerk(PerkRespawn) {
		t.Error("running into the border should kill")
	}
}

func TestWorldRandomFreeCellAvoidsOccupied(t *testing.T) {
	w := newTestWorld(WithSize(3, 1))
	w.Add(NewObject(w, 0, 0))
	w.Add(NewObject(w, 2, 0))
	for i := 0; i < 20; i++ {
		if p := w.RandomFreeCell(); p != (Point{1, 0}) {
			t.Fatalf("free cell = %v, want (1,0)", p)
		}
	}
}

func TestWorldRandomFreeCellCrowdedBoard(t *testing.T) {
	w := newTestWorld(WithSize(10, 10))
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			if x == 7 && y == 2 {
				continue
			}
			w.Add(NewWall(w, x, y))
		}
	}
	for i := 0; i < 50; i++ {
		if p := w.RandomFreeCell(); p != (Point{7, 2}) {
			t.Fatalf("free cell = %v, want (7,2)", p)
		}
	}
}

func TestWorldRespawnSkipsFullBoard(t *testing.T) {
	w := newTestWorld(WithSize(2, 1), WithPowerUpToEnd(10))
	def := &MapDef{Name: "cramped", RespawnPowerUps: true, Items: []MapItem{{Kind: KindPowerUp, X: 1, Y: 0}}}
	if err := w.ApplyMap(def); err != nil {
		t.Fatal(err)
	}
	s := placeSnake(w, 0, 0, Right)
	s.Trail = []Point{{0, 0}}
	w.Step()

	if w.PowerUpCollected != 1 {
		t.Fatalf("collected = %d, want 1", w.PowerUpCollected)
	}
	for _, e := range w.Objects() {
		if e.Kind() == KindPowerUp && !e.Base().Removed() {
			t.Errorf("replacement placed on an occupied cell at %v", e.Base().Pos())
		}
	}
}

func TestSignalOnce(t *testing.T) {
	var sig Signal[int]
	calls := 0
	sig.Once(func(int) { calls++ })
	sig.Emit(1)
	sig.Emit(2)
	if calls != 1 {
		t.Errorf("once handler ran %d times, want 1", calls)
	}
}

func findPowerUp(t *testing.T, w *World) *PowerUp {
	t.Helper()
	for _, e := range w.Objects() {
		if p, ok := e.(*PowerUp); ok {
			return p
		}
	}
	t.Fatal("no power-up on the board")
	return nil
}
