package combat

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// VictoryLog is appended to the battle log when a monster falls.
const VictoryLog = "✨ 정적을 깨뜨린 승리! 경험치를 획득합니다."

const (
	hpPerLevel     = 100
	rewardPerLevel = 50
)

//go:embed monsters.yaml
var monstersYAML []byte

// Monster is one roster entry.
type Monster struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Type          string `yaml:"type" json:"type"`
	Biome         string `yaml:"biome" json:"biome"`
	RequiredLevel int    `yaml:"required_level" json:"required_level"`
	CallToAction  string `yaml:"call_to_action" json:"call_to_action"`
}

// MaxHP is the monster's starting hit points.
func (m Monster) MaxHP() int { return m.RequiredLevel * hpPerLevel }

// RewardExp is the experience granted for defeating the monster.
func (m Monster) RewardExp() int { return m.RequiredLevel * rewardPerLevel }

// Roster is the read-only list of monsters a player can fight.
type Roster struct {
	order []Monster
	byID  map[string]Monster
}

// DefaultRoster returns the embedded monster roster.
func DefaultRoster() *Roster {
	r, err := LoadRoster(monstersYAML)
	if err != nil {
		panic(fmt.Sprintf("combat: embedded roster: %v", err))
	}
	return r
}

// LoadRoster decodes a YAML list of monsters.
func LoadRoster(data []byte) (*Roster, error) {
	var ms []Monster
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ms); err != nil {
		return nil, fmt.Errorf("combat: decode roster: %w", err)
	}

	r := &Roster{order: ms, byID: make(map[string]Monster, len(ms))}
	var errs []error
	for i, m := range ms {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("monsters[%d]: id is required", i))
			continue
		}
		if _, dup := r.byID[m.ID]; dup {
			errs = append(errs, fmt.Errorf("monsters[%d]: duplicate id %q", i, m.ID))
		}
		if m.RequiredLevel < 1 {
			errs = append(errs, fmt.Errorf("monsters[%d]: required_level must be at least 1", i))
		}
		r.byID[m.ID] = m
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("combat: invalid roster: %w", errors.Join(errs...))
	}
	return r, nil
}

// All returns the monsters in roster order.
func (r *Roster) All() []Monster { return append([]Monster(nil), r.order...) }

// Get looks a monster up by ID.
func (r *Roster) Get(id string) (Monster, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Encounter tracks one fight against a monster. It is safe for concurrent
// use.
type Encounter struct {
	monster Monster

	mu       sync.Mutex
	hp       int
	defeated bool
}

// NewEncounter starts a fight with m at full health.
func NewEncounter(m Monster) *Encounter {
	return &Encounter{monster: m, hp: m.MaxHP()}
}

// Monster returns the opponent.
func (e *Encounter) Monster() Monster { return e.monster }

// HP returns the remaining hit points.
func (e *Encounter) HP() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hp
}

// Defeated reports whether the monster has fallen.
func (e *Encounter) Defeated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defeated
}

// Apply subtracts damage, flooring hit points at 0. victory is true exactly
// once: on the call that brings the monster to 0.
func (e *Encounter) Apply(damage int) (hp int, victory bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if damage > 0 {
		e.hp = max(0, e.hp-damage)
	}
	if e.hp == 0 && !e.defeated {
		e.defeated = true
		victory = true
	}
	return e.hp, victory
}
