// Package catalog exposes the read-only ship definitions a game is played with.
// Definitions are compiled ahead of time; the engine never interprets rule text.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"gopkg.in/yaml.v3"
)

// Category describes what a power does once it acts.
type Category string

const (
	CategoryDamage     Category = "damage"
	CategoryHeal       Category = "heal"
	CategoryDestroy    Category = "destroy"
	CategoryExtraLines Category = "extra_lines"
	CategoryReroll     Category = "reroll"
	CategoryBuild      Category = "build"
)

// Target overrides the default recipient of an effect.
type Target string

const (
	TargetDefault  Target = ""
	TargetSelf     Target = "self"
	TargetOpponent Target = "opponent"
)

// Power is a declarative capability attached to a ship definition.
type Power struct {
	ID            string       `yaml:"id" json:"id"`
	Timing        rules.Timing `yaml:"timing" json:"timing"`
	Category      Category     `yaml:"category" json:"category"`
	Amount        int          `yaml:"amount,omitempty" json:"amount,omitempty"`
	Expression    string       `yaml:"expression,omitempty" json:"expression,omitempty"`
	Target        Target       `yaml:"target,omitempty" json:"target,omitempty"`
	CostInCharges int          `yaml:"cost_in_charges,omitempty" json:"cost_in_charges,omitempty"`
	CostInEnergy  int          `yaml:"cost_in_energy,omitempty" json:"cost_in_energy,omitempty"`
	Builds        string       `yaml:"builds,omitempty" json:"builds,omitempty"`
	Description   string       `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsCharge reports whether using the power consumes charges.
func (p Power) IsCharge() bool {
	return p.Timing == rules.TimingCharge && p.CostInCharges > 0
}

// AffectsHealth reports whether the power resolves into a queued damage/heal effect
// rather than an immediate engine action (rerolls, builds, lines, destruction).
func (p Power) AffectsHealth() bool {
	switch p.Category {
	case CategoryDestroy, CategoryExtraLines, CategoryReroll, CategoryBuild:
		return false
	default:
		return true
	}
}

// UnitDefinition describes a buildable ship.
type UnitDefinition struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Faction     string   `yaml:"faction" json:"faction"`
	Cost        int      `yaml:"cost" json:"cost"`
	Components  []string `yaml:"components,omitempty" json:"components,omitempty"`
	MaxCount    int      `yaml:"max_count,omitempty" json:"max_count,omitempty"`
	Charges     int      `yaml:"charges,omitempty" json:"charges,omitempty"`
	Powers      []Power  `yaml:"powers,omitempty" json:"powers,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Upgraded reports whether building the ship consumes component ships.
func (d UnitDefinition) Upgraded() bool {
	return len(d.Components) > 0
}

// HasChargePowers reports whether instances carry a charge counter.
func (d UnitDefinition) HasChargePowers() bool {
	for _, p := range d.Powers {
		if p.IsCharge() {
			return true
		}
	}
	return false
}

// PowersWithTiming returns the indexes of powers tagged with timing.
func (d UnitDefinition) PowersWithTiming(timing rules.Timing) []int {
	var indexes []int
	for i, p := range d.Powers {
		if p.Timing == timing {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// Power returns the power at index.
func (d UnitDefinition) Power(index int) (Power, bool) {
	if index < 0 || index >= len(d.Powers) {
		return Power{}, false
	}
	return d.Powers[index], true
}

// Catalog is the read-only lookup every engine component shares.
type Catalog interface {
	Definition(id string) (UnitDefinition, bool)
	Definitions() []UnitDefinition
	Factions() []string
}

// StaticCatalog is an immutable in-memory catalog.
type StaticCatalog struct {
	defs  map[string]UnitDefinition
	order []string
}

type catalogFile struct {
	Ships []UnitDefinition `yaml:"ships"`
}

// New validates the definitions and builds a catalog from them.
func New(defs []UnitDefinition) (*StaticCatalog, error) {
	c := &StaticCatalog{defs: make(map[string]UnitDefinition, len(defs))}

	for _, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("ship definition without id")
		}
		if _, dup := c.defs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate ship definition %q", def.ID)
		}
		if def.Cost < 0 {
			return nil, fmt.Errorf("ship %s: negative cost", def.ID)
		}

		powers := make([]Power, len(def.Powers))
		seen := make(map[string]bool, len(def.Powers))
		for i, p := range def.Powers {
			if p.ID == "" {
				p.ID = fmt.Sprintf("%s#%d", def.ID, i)
			}
			if seen[p.ID] {
				return nil, fmt.Errorf("ship %s: duplicate power id %q", def.ID, p.ID)
			}
			seen[p.ID] = true
			if !rules.ValidTiming(p.Timing) {
				return nil, fmt.Errorf("ship %s power %s: unknown timing %q", def.ID, p.ID, p.Timing)
			}
			if p.CostInCharges < 0 || p.CostInEnergy < 0 {
				return nil, fmt.Errorf("ship %s power %s: negative cost", def.ID, p.ID)
			}
			powers[i] = p
		}
		def.Powers = powers
		def.Components = append([]string(nil), def.Components...)

		c.defs[def.ID] = def
		c.order = append(c.order, def.ID)
	}

	for _, id := range c.order {
		def := c.defs[id]
		for _, component := range def.Components {
			if _, ok := c.defs[component]; !ok {
				return nil, fmt.Errorf("ship %s: unknown component %q", id, component)
			}
		}
		for _, p := range def.Powers {
			if p.Category != CategoryBuild {
				continue
			}
			if _, ok := c.defs[p.Builds]; !ok {
				return nil, fmt.Errorf("ship %s power %s: builds unknown ship %q", id, p.ID, p.Builds)
			}
		}
		if def.HasChargePowers() && def.Charges <= 0 {
			return nil, fmt.Errorf("ship %s: charge powers require starting charges", id)
		}
	}

	sort.Strings(c.order)
	return c, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*StaticCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(file.Ships)
}

// Load reads and parses a YAML catalog file.
func Load(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Default returns the catalog bundled with the server.
func Default() (*StaticCatalog, error) {
	return Parse(defaultCatalogYAML)
}

// Definition looks up a ship definition by id.
func (c *StaticCatalog) Definition(id string) (UnitDefinition, bool) {
	def, ok := c.defs[id]
	return def, ok
}

// Definitions returns every definition ordered by id.
func (c *StaticCatalog) Definitions() []UnitDefinition {
	defs := make([]UnitDefinition, 0, len(c.order))
	for _, id := range c.order {
		defs = append(defs, c.defs[id])
	}
	return defs
}

// Factions returns the distinct factions in the catalog.
func (c *StaticCatalog) Factions() []string {
	seen := make(map[string]bool)
	var factions []string
	for _, id := range c.order {
		faction := c.defs[id].Faction
		if faction != "" && !seen[faction] {
			seen[faction] = true
			factions = append(factions, faction)
		}
	}
	sort.Strings(factions)
	return factions
}
