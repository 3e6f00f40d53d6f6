package rules

// PowerUp is a passive collectible. It removes itself the first time a snake
// runs into it and the collecting snake grows by Growth.
type PowerUp struct {
	Object
	Growth int
}

// NewPowerUp creates an unregistered power-up with the default growth of 1.
func NewPowerUp(w *World, x, y int) *PowerUp {
	p := &PowerUp{Object: newObject(w), Growth: 1}
	p.X, p.Y = x, y
	p.OnCollision.Subscribe(func(by Entity) { collect(p, by) })
	return p
}

func (p *PowerUp) Kind() Kind { return KindPowerUp }

// PerkPowerUp is a power-up that also grants a timed perk.
type PerkPowerUp struct {
	PowerUp
	Perk     string
	Duration int
}

// NewPerkPowerUp creates an unregistered power-up granting perk for duration
// ticks.
func NewPerkPowerUp(w *World, x, y int, perk string, duration int) *PerkPowerUp {
	p := &PerkPowerUp{
		PowerUp:  PowerUp{Object: newObject(w), Growth: 1},
		Perk:     perk,
		Duration: duration,
	}
	p.X, p.Y = x, y
	p.OnCollision.Subscribe(func(by Entity) { collect(p, by) })
	return p
}

func (p *PerkPowerUp) Kind() Kind { return KindPerk }

// collect removes a power-up exactly once and reports it to the world.
// Only a visible snake can collect; walls and other items are ignored.
func collect(e Entity, by Entity) {
	o := e.Base()
	if o.removed {
		return
	}
	if s, ok := by.(*Snake); !ok || s.Hidden {
		return
	}
	o.Remove()
	o.world.collected(e)
}
