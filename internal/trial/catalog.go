// Package trial runs the solo voice challenges that unlock with player level:
// holding a loud note, reaching a single peak, and chanting keywords in
// order against the clock.
package trial

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed trials.yaml
var trialsYAML []byte

var (
	// ErrNotFound is returned by [Catalog.Get] for an unknown trial id.
	ErrNotFound = errors.New("trial: not found")

	// ErrLocked is returned by [Definition.Admit] when the player's level is
	// below the trial's requirement.
	ErrLocked = errors.New("trial: level too low")
)

// Type selects the success rule of a trial.
type Type string

const (
	TypeSustain  Type = "SUSTAIN"
	TypeSequence Type = "SEQUENCE"
	TypeZenith   Type = "ZENITH"
)

// Definition is one immutable trial entry.
type Definition struct {
	ID            string `yaml:"id" json:"id"`
	Type          Type   `yaml:"type" json:"type"`
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description"`
	RequiredLevel int    `yaml:"required_level" json:"required_level"`
	RewardExp     int    `yaml:"reward_exp" json:"reward_exp"`

	// TargetDB is the raw level to reach (ZENITH) or hold (SUSTAIN).
	TargetDB float64 `yaml:"target_db,omitempty" json:"target_db,omitempty"`

	// DurationSeconds is how long a SUSTAIN trial must be held.
	DurationSeconds int `yaml:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`

	// Sequence lists the keywords of a SEQUENCE trial in the order they must
	// be spoken.
	Sequence []string `yaml:"sequence,omitempty" json:"sequence,omitempty"`

	TimeLimitSeconds int `yaml:"time_limit_seconds,omitempty" json:"time_limit_seconds,omitempty"`
}

// TimeLimit returns the configured limit, or 30 s for SUSTAIN and 60 s for
// every other type when none is set.
func (d Definition) TimeLimit() time.Duration {
	if d.TimeLimitSeconds > 0 {
		return time.Duration(d.TimeLimitSeconds) * time.Second
	}
	if d.Type == TypeSustain {
		return 30 * time.Second
	}
	return 60 * time.Second
}

// Admit returns [ErrLocked] if level is below the trial's requirement.
func (d Definition) Admit(level int) error {
	if level < d.RequiredLevel {
		return fmt.Errorf("%w: %q needs level %d, player is %d", ErrLocked, d.ID, d.RequiredLevel, level)
	}
	return nil
}

func (d Definition) validate(i int) []error {
	var errs []error
	prefix := fmt.Sprintf("trials[%d]", i)
	if d.ID == "" {
		errs = append(errs, fmt.Errorf("%s: id is required", prefix))
	}
	if d.RewardExp < 0 {
		errs = append(errs, fmt.Errorf("%s: reward_exp must not be negative", prefix))
	}
	if d.TimeLimitSeconds < 0 {
		errs = append(errs, fmt.Errorf("%s: time_limit_seconds must not be negative", prefix))
	}
	switch d.Type {
	case TypeSustain:
		if d.DurationSeconds <= 0 {
			errs = append(errs, fmt.Errorf("%s: SUSTAIN needs a positive duration_seconds", prefix))
		}
		if d.TargetDB <= 0 {
			errs = append(errs, fmt.Errorf("%s: SUSTAIN needs a positive target_db", prefix))
		}
	case TypeZenith:
		if d.TargetDB <= 0 {
			errs = append(errs, fmt.Errorf("%s: ZENITH needs a positive target_db", prefix))
		}
	case TypeSequence:
		if len(d.Sequence) == 0 {
			errs = append(errs, fmt.Errorf("%s: SEQUENCE needs at least one keyword", prefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown type %q", prefix, d.Type))
	}
	return errs
}

// Catalog is the ordered, read-only set of trials.
type Catalog struct {
	order []Definition
	byID  map[string]Definition
}

// DefaultCatalog returns the embedded trial catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(trialsYAML)
	if err != nil {
		panic(fmt.Sprintf("trial: embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog decodes a YAML list of trial definitions.
func LoadCatalog(data []byte) (*Catalog, error) {
	var defs []Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("trial: decode catalog: %w", err)
	}

	c := &Catalog{order: defs, byID: make(map[string]Definition, len(defs))}
	var errs []error
	for i, d := range defs {
		errs = append(errs, d.validate(i)...)
		if _, dup := c.byID[d.ID]; dup && d.ID != "" {
			errs = append(errs, fmt.Errorf("trials[%d]: duplicate id %q", i, d.ID))
		}
		c.byID[d.ID] = d
	}
	if len(defs) == 0 {
		errs = append(errs, errors.New("catalog has no trials"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("trial: invalid catalog: %w", errors.Join(errs...))
	}
	return c, nil
}

// LoadCatalogFile reads a YAML trial catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trial: read %q: %w", path, err)
	}
	return LoadCatalog(data)
}

// All returns the trials in declared order.
func (c *Catalog) All() []Definition { return append([]Definition(nil), c.order...) }

// Get returns the trial with the given id.
func (c *Catalog) Get(id string) (Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}
