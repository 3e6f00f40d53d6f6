package rules

// grid buckets entity references by cell for the broad phase of collision
// detection and for free-cell lookups. References are indexes into the
// ordered entity list the grid was filled from.
type grid struct {
	cols, rows int
	cells      [][]int
}

func newGrid(cols, rows int) *grid {
	g := &grid{}
	g.resize(cols, rows)
	return g
}

// resize reallocates only when the board size changed.
func (g *grid) resize(cols, rows int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if g.cols == cols && g.rows == rows {
		return
	}
	g.cols, g.rows = cols, rows
	g.cells = make([][]int, cols*rows)
}

// Clear resets all cells (keeps allocated capacity)
func (g *grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func (g *grid) cellIdx(p Point) (int, bool) {
	if p.X < 0 || p.Y < 0 || p.X >= g.cols || p.Y >= g.rows {
		return 0, false
	}
	return p.Y*g.cols + p.X, true
}

// Insert adds a reference at p. Off-board cells are ignored.
func (g *grid) Insert(p Point, ref int) {
	idx, ok := g.cellIdx(p)
	if !ok {
		return
	}
	cell := g.cells[idx]
	if n := len(cell); n > 0 && cell[n-1] == ref {
		return
	}
	g.cells[idx] = append(cell, ref)
}

// Query returns the references stored at p.
func (g *grid) Query(p Point) []int {
	idx, ok := g.cellIdx(p)
	if !ok {
		return nil
	}
	return g.cells[idx]
}

// Occupied reports whether anything was inserted at p.
func (g *grid) Occupied(p Point) bool {
	return len(g.Query(p)) > 0
}

// fill inserts every collidable entity's cells: its position and, for
// snakes, the whole trail.
func (g *grid) fill(list []Entity) {
	g.Clear()
	for i, e := range list {
		if !collidable(e) {
			continue
		}
		for _, p := range cellsOf(e) {
			g.Insert(p, i)
		}
	}
}

func cellsOf(e Entity) []Point {
	pos := e.Base().Pos()
	s, ok := e.(*Snake)
	if !ok || len(s.Trail) == 0 {
		return []Point{pos}
	}
	if s.Trail[0] == pos {
		return s.Trail
	}
	return append([]Point{pos}, s.Trail...)
}

// collidable excludes removed and hidden entities and respawn markers.
func collidable(e Entity) bool {
	o := e.Base()
	return !o.removed && !o.Hidden && e.Kind() != KindMarker
}
