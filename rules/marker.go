package rules

// RespawnMarker shows where a dead snake will reappear. It lives exactly as
// long as the snake's respawn perk.
type RespawnMarker struct {
	Object
	Snake *Snake
}

// NewRespawnMarker creates an unregistered marker bound to s.
func NewRespawnMarker(w *World, s *Snake) *RespawnMarker {
	m := &RespawnMarker{Object: newObject(w), Snake: s}
	m.follow()
	return m
}

func (m *RespawnMarker) Kind() Kind { return KindMarker }

func (m *RespawnMarker) Update() {
	m.follow()
}

func (m *RespawnMarker) follow() {
	m.X, m.Y = m.Snake.X, m.Snake.Y
}
