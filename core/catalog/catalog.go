// Package catalog holds the read-only commodity catalog.
//
// Commodities are indexed twice: by their uint16 index, which is what travels
// on the wire, and by canonical upper-case name. Both lookups are O(1).
// The catalog also carries the mod-author expiration defaults, the middle
// layer of the settings resolver.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtin []byte

// UnknownIndex is reserved and never assigned to a commodity.
const UnknownIndex uint16 = 0

// Commodity is one entry of the catalog.
type Commodity struct {
	Index        uint16   `yaml:"-" json:"index"`
	Name         string   `yaml:"name" json:"name"`
	Title        string   `yaml:"title" json:"title"`
	PricePerUnit float64  `yaml:"price_per_unit" json:"price_per_unit"`
	Default      *Default `yaml:"default,omitempty" json:"default,omitempty"`
}

// Default is a mod-author expiration default.
// Expires=false means "does not expire"; otherwise Period is the threshold in periods.
type Default struct {
	Expires *bool   `yaml:"expires,omitempty" json:"expires,omitempty"`
	Period  float64 `yaml:"period,omitempty" json:"period,omitempty"`
}

// Perishable reports whether the default makes the commodity expire.
func (d Default) Perishable() bool {
	if d.Expires != nil && !*d.Expires {
		return false
	}
	return d.Period > 0
}

type file struct {
	Commodities []Commodity `yaml:"commodities"`
}

// Catalog is the indexed commodity list.
type Catalog struct {
	list    []Commodity
	byIndex map[uint16]int
	byName  map[string]int
}

// Builtin parses the embedded catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// Load reads a catalog file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog. Indices are assigned in file order starting at 1.
func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog.yaml: %w", err)
	}
	return New(f.Commodities)
}

// New builds a catalog from commodities, assigning indices in order.
func New(commodities []Commodity) (*Catalog, error) {
	c := &Catalog{
		list:    make([]Commodity, 0, len(commodities)),
		byIndex: make(map[uint16]int, len(commodities)),
		byName:  make(map[string]int, len(commodities)),
	}
	for i, com := range commodities {
		name := Normalize(com.Name)
		if name == "" {
			return nil, fmt.Errorf("commodity %d: missing name", i)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("commodity %s: duplicate name", name)
		}
		if com.Default != nil && com.Default.Period < 0 {
			return nil, fmt.Errorf("commodity %s: negative default period", name)
		}
		com.Name = name
		com.Index = uint16(i + 1)
		if com.Title == "" {
			com.Title = name
		}
		c.byIndex[com.Index] = len(c.list)
		c.byName[name] = len(c.list)
		c.list = append(c.list, com)
	}
	return c, nil
}

// Normalize canonicalizes a commodity name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// ByIndex looks a commodity up by wire index.
func (c *Catalog) ByIndex(idx uint16) (Commodity, bool) {
	i, ok := c.byIndex[idx]
	if !ok {
		return Commodity{}, false
	}
	return c.list[i], true
}

// ByName looks a commodity up by name (case-insensitive).
func (c *Catalog) ByName(name string) (Commodity, bool) {
	i, ok := c.byName[Normalize(name)]
	if !ok {
		return Commodity{}, false
	}
	return c.list[i], true
}

// IndexOf returns the wire index for name or UnknownIndex.
func (c *Catalog) IndexOf(name string) uint16 {
	if com, ok := c.ByName(name); ok {
		return com.Index
	}
	return UnknownIndex
}

// NameOf returns the name for idx or an empty string.
func (c *Catalog) NameOf(idx uint16) string {
	if com, ok := c.ByIndex(idx); ok {
		return com.Name
	}
	return ""
}

// All returns the commodities in index order.
func (c *Catalog) All() []Commodity {
	out := make([]Commodity, len(c.list))
	copy(out, c.list)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Defaults returns the mod-author defaults keyed by commodity name.
func (c *Catalog) Defaults() map[string]Default {
	out := make(map[string]Default)
	for _, com := range c.list {
		if com.Default != nil {
			out[com.Name] = *com.Default
		}
	}
	return out
}

// Len returns the number of commodities.
func (c *Catalog) Len() int {
	return len(c.list)
}
