package lexicon

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var builtin embed.FS

// DefaultVersion names the embedded catalog used when none is configured.
const DefaultVersion = "B"

// Tier separates short action keywords from long incantations.
type Tier int

const (
	// TierNovice keywords are short suffixes matched by containment and carry
	// no loudness requirement.
	TierNovice Tier = iota

	// TierUltimate phrases are long incantations that also require the peak
	// level to reach [Keyword.RequiredDB].
	TierUltimate
)

// String returns the tier name used in logs and API payloads.
func (t Tier) String() string {
	switch t {
	case TierNovice:
		return "novice"
	case TierUltimate:
		return "ultimate"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Keyword is one immutable catalog entry.
type Keyword struct {
	Phrase      string  `yaml:"phrase" json:"phrase"`
	BaseDamage  int     `yaml:"base_damage" json:"base_damage"`
	RequiredDB  float64 `yaml:"required_db,omitempty" json:"required_db,omitempty"`
	Description string  `yaml:"description" json:"description"`
	Tier        Tier    `yaml:"-" json:"tier"`
}

// catalogFile is the YAML layout of a keyword catalog.
type catalogFile struct {
	Version  string    `yaml:"version"`
	Novice   []Keyword `yaml:"novice"`
	Ultimate []Keyword `yaml:"ultimate"`
}

// Catalog is a versioned, ordered set of keywords. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	version  string
	novice   []Keyword
	ultimate []Keyword
}

// NewCatalog builds a catalog from the given entries, preserving their order.
// Tiers are assigned from the slice each entry came from.
func NewCatalog(version string, novice, ultimate []Keyword) (*Catalog, error) {
	c := &Catalog{
		version:  version,
		novice:   make([]Keyword, len(novice)),
		ultimate: make([]Keyword, len(ultimate)),
	}
	for i, k := range novice {
		k.Tier = TierNovice
		c.novice[i] = k
	}
	for i, k := range ultimate {
		k.Tier = TierUltimate
		c.ultimate[i] = k
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	if strings.TrimSpace(c.version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(c.novice)+len(c.ultimate) == 0 {
		errs = append(errs, errors.New("catalog has no keywords"))
	}
	check := func(section string, i int, k Keyword) {
		prefix := fmt.Sprintf("%s[%d]", section, i)
		if Clean(k.Phrase) == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is empty after cleaning", prefix))
		}
		if k.BaseDamage < 0 {
			errs = append(errs, fmt.Errorf("%s.base_damage %d is negative", prefix, k.BaseDamage))
		}
		if k.RequiredDB < 0 || k.RequiredDB > 100 {
			errs = append(errs, fmt.Errorf("%s.required_db %.1f is out of range [0, 100]", prefix, k.RequiredDB))
		}
	}
	for i, k := range c.novice {
		check("novice", i, k)
	}
	for i, k := range c.ultimate {
		check("ultimate", i, k)
	}
	if len(errs) > 0 {
		return fmt.Errorf("lexicon: invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}

// LoadCatalog decodes a YAML catalog from r.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("lexicon: decode catalog: %w", err)
	}
	return NewCatalog(f.Version, f.Novice, f.Ultimate)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Builtin returns one of the embedded catalogs: "A" (prototype balance) or
// "B" (current balance). An empty version selects [DefaultVersion].
func Builtin(version string) (*Catalog, error) {
	if version == "" {
		version = DefaultVersion
	}
	f, err := builtin.Open("catalogs/" + strings.ToLower(version) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("lexicon: unknown builtin catalog %q", version)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Version returns the catalog version label.
func (c *Catalog) Version() string { return c.version }

// Novice returns a copy of the novice keywords in declared order.
func (c *Catalog) Novice() []Keyword { return append([]Keyword(nil), c.novice...) }

// Ultimate returns a copy of the ultimate phrases in declared order.
func (c *Catalog) Ultimate() []Keyword { return append([]Keyword(nil), c.ultimate...) }

// All returns ultimates followed by novices, which is the order [Catalog.Find]
// evaluates them in.
func (c *Catalog) All() []Keyword {
	out := make([]Keyword, 0, len(c.ultimate)+len(c.novice))
	out = append(out, c.ultimate...)
	return append(out, c.novice...)
}

// Find returns the first entry spoken matches. Ultimate phrases are checked
// before novice keywords; within a tier the first declared entry wins.
func (c *Catalog) Find(spoken string) (Keyword, bool) {
	for _, k := range c.ultimate {
		if Match(spoken, k.Phrase) {
			return k, true
		}
	}
	for _, k := range c.novice {
		if Match(spoken, k.Phrase) {
			return k, true
		}
	}
	return Keyword{}, false
}

// Current returns c itself, so a fixed catalog can stand in wherever a
// reloadable [Holder] is accepted.
func (c *Catalog) Current() *Catalog { return c }
