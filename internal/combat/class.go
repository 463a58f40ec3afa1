package combat

import "fmt"

// Class is the character class tag supplied by the account system. It only
// selects a damage multiplier branch.
type Class string

// Known classes. Any other tag, including the empty string, resolves with no
// class modifier.
const (
	ClassCommoner  Class = "commoner"
	ClassBerserker Class = "berserker"
	ClassMage      Class = "mage"
	ClassAssassin  Class = "assassin"
)

// Selectable reports whether c is one of the classes a player may pick.
// [ClassCommoner] is the starting class and cannot be selected again.
func (c Class) Selectable() bool {
	switch c {
	case ClassBerserker, ClassMage, ClassAssassin:
		return true
	}
	return false
}

// ParseClass validates a class selection.
func ParseClass(s string) (Class, error) {
	c := Class(s)
	if !c.Selectable() {
		return "", fmt.Errorf("combat: unknown class %q", s)
	}
	return c, nil
}

// apply returns dmg adjusted for the class. Each multiplier result is floored.
func (c Class) apply(dmg int, ultimate bool) int {
	switch {
	case c == ClassBerserker:
		return floorMul(dmg, 1.2)
	case c == ClassMage && ultimate:
		return floorMul(dmg, 1.5)
	case c == ClassAssassin:
		return floorMul(dmg, 1.1)
	}
	return dmg
}
