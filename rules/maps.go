package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MapDef is a named board layout: size, static walls and the collectibles
// placed when a game starts.
type MapDef struct {
	Name    string    `json:"name"`
	Tileset string    `json:"tileset,omitempty"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Border  bool      `json:"border,omitempty"`
	Walls   []Point   `json:"walls,omitempty"`
	Items   []MapItem `json:"items,omitempty"`

	// RespawnPowerUps places a replacement whenever one is collected.
	RespawnPowerUps bool `json:"respawnPowerUps,omitempty"`
}

// MapItem is a collectible in a layout. Negative coordinates mean a random
// free cell.
type MapItem struct {
	Kind     Kind   `json:"kind"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Growth   int    `json:"growth,omitempty"`
	Deadly   bool   `json:"deadly,omitempty"`
	Perk     string `json:"perk,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

func (it MapItem) build(w *World, x, y int) Entity {
	var p *PowerUp
	var out Entity
	if it.Kind == KindPerk {
		pp := NewPerkPowerUp(w, x, y, it.Perk, it.Duration)
		p, out = &pp.PowerUp, pp
	} else {
		p = NewPowerUp(w, x, y)
		out = p
	}
	if it.Growth != 0 {
		p.Growth = it.Growth
	}
	p.Deadly = it.Deadly
	return out
}

// Validate rejects layouts that cannot be placed on their own board size, or
// on the default board when they do not set one.
func (d *MapDef) Validate() error {
	return d.validateFor(DefaultWidth, DefaultHeight)
}

func (d *MapDef) validateFor(w, h int) error {
	if d.Name == "" {
		return fmt.Errorf("rules: map without name")
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("rules: map %q: negative size", d.Name)
	}
	if d.Width > 0 && d.Height > 0 {
		w, h = d.Width, d.Height
	}
	if d.Border && (w < 3 || h < 3) {
		return fmt.Errorf("rules: map %q: too small for a border", d.Name)
	}
	taken := make(map[Point]bool)
	for _, p := range d.Walls {
		if p.X < 0 || p.Y < 0 || p.X >= w || p.Y >= h {
			return fmt.Errorf("rules: map %q: wall (%d,%d) off board", d.Name, p.X, p.Y)
		}
		taken[p] = true
	}
	onBorder := func(p Point) bool {
		return d.Border && (p.X == 0 || p.Y == 0 || p.X == w-1 || p.Y == h-1)
	}
	for _, it := range d.Items {
		switch it.Kind {
		case KindPowerUp:
		case KindPerk:
			if it.Perk == "" || it.Duration <= 0 {
				return fmt.Errorf("rules: map %q: perk item needs perk and duration", d.Name)
			}
		default:
			return fmt.Errorf("rules: map %q: unknown item kind %q", d.Name, it.Kind)
		}
		if it.X < 0 || it.Y < 0 {
			continue
		}
		if it.X >= w || it.Y >= h {
			return fmt.Errorf("rules: map %q: item (%d,%d) off board", d.Name, it.X, it.Y)
		}
		p := Point{it.X, it.Y}
		if taken[p] || onBorder(p) {
			return fmt.Errorf("rules: map %q: item (%d,%d) overlaps a wall or another item", d.Name, it.X, it.Y)
		}
		taken[p] = true
	}
	return nil
}

var (
	mapsMu sync.RWMutex
	maps   = map[string]*MapDef{
		"empty": {Name: "empty", Tileset: "dungeon"},
		"plain": {
			Name:            "plain",
			Tileset:         "brick",
			Items:           []MapItem{{Kind: KindPowerUp, X: -1, Y: -1}},
			RespawnPowerUps: true,
		},
		"box": {
			Name:            "box",
			Tileset:         "brick",
			Border:          true,
			Items:           []MapItem{{Kind: KindPowerUp, X: -1, Y: -1}},
			RespawnPowerUps: true,
		},
	}
)

// RegisterMap adds or replaces a layout.
func RegisterMap(def *MapDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	mapsMu.Lock()
	defer mapsMu.Unlock()
	maps[def.Name] = def
	return nil
}

// LookupMap returns the layout registered under name.
func LookupMap(name string) (*MapDef, bool) {
	mapsMu.RLock()
	defer mapsMu.RUnlock()
	def, ok := maps[name]
	return def, ok
}

// MapNames lists the registered layouts, sorted.
func MapNames() []string {
	mapsMu.RLock()
	defer mapsMu.RUnlock()
	names := make([]string, 0, len(maps))
	for name := range maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadMapFile reads a JSON layout. The file name is used when the layout has
// no name of its own.
func LoadMapFile(path string) (*MapDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read map: %w", err)
	}
	def := &MapDef{}
	if err := json.Unmarshal(raw, def); err != nil {
		return nil, fmt.Errorf("rules: parse map %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadMapDir registers every *.json layout in dir and returns their names.
func LoadMapDir(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, path := range paths {
		def, err := LoadMapFile(path)
		if err != nil {
			return names, err
		}
		if err := RegisterMap(def); err != nil {
			return names, err
		}
		names = append(names, def.Name)
	}
	return names, nil
}
