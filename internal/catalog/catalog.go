// Package catalog provides the immutable policy and ideology definitions a
// room is dealt from.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/talgya/city-council/internal/city"
)

// Category groups policies by the dimension they mainly address.
type Category string

const (
	CategoryEconomy     Category = "Economy"
	CategoryWelfare     Category = "Welfare"
	CategoryEducation   Category = "Education"
	CategoryEnvironment Category = "Environment"
	CategorySecurity    Category = "Security"
	CategoryHumanRights Category = "HumanRights"
)

// CategoryOf returns the category that addresses the given dimension.
func CategoryOf(d city.Dimension) Category {
	switch d {
	case city.Economy:
		return CategoryEconomy
	case city.Welfare:
		return CategoryWelfare
	case city.Education:
		return CategoryEducation
	case city.Environment:
		return CategoryEnvironment
	case city.Security:
		return CategorySecurity
	default:
		return CategoryHumanRights
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEconomy, CategoryWelfare, CategoryEducation, CategoryEnvironment, CategorySecurity, CategoryHumanRights:
		return true
	}
	return false
}

// Policy is a policy card. Effects stay server-side until the card passes.
type Policy struct {
	ID          string       `json:"id" yaml:"id"`
	Category    Category     `json:"category" yaml:"category"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description" yaml:"description"`
	NewsFlash   string       `json:"newsFlash" yaml:"newsFlash"`
	Effects     city.Effects `json:"effects" yaml:"effects"`
}

// Option is the player-safe face of a policy: no effects, no newsflash.
type Option struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Option projects the policy for players.
func (p Policy) Option() Option {
	return Option{ID: p.ID, Category: p.Category, Title: p.Title, Description: p.Description}
}

// Ideology is a hidden scoring profile assigned to one player.
type Ideology struct {
	ID           string                     `json:"id" yaml:"id"`
	Name         string                     `json:"name" yaml:"name"`
	Description  string                     `json:"description" yaml:"description"`
	Coefficients map[city.Dimension]float64 `json:"coefficients" yaml:"coefficients"`
}

// Catalog is a read-only lookup of policies and ideologies.
type Catalog struct {
	policies    map[string]Policy
	ideologies  map[string]Ideology
	policyIDs   []string
	ideologyIDs []string
	digest      string
}

// New builds a catalog, rejecting duplicate ids and unknown dimensions.
func New(policies []Policy, ideologies []Ideology) (*Catalog, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("catalog has no policies")
	}
	if len(ideologies) == 0 {
		return nil, fmt.Errorf("catalog has no ideologies")
	}

	c := &Catalog{
		policies:   make(map[string]Policy, len(policies)),
		ideologies: make(map[string]Ideology, len(ideologies)),
	}

	for _, p := range policies {
		if p.ID == "" {
			return nil, fmt.Errorf("policy with empty id")
		}
		if _, dup := c.policies[p.ID]; dup {
			return nil, fmt.Errorf("duplicate policy id %q", p.ID)
		}
		for d := range p.Effects {
			if !d.Valid() {
				return nil, fmt.Errorf("policy %s: unknown dimension %q", p.ID, d)
			}
		}
		p.Effects = p.Effects.Clone()
		c.policies[p.ID] = p
		c.policyIDs = append(c.policyIDs, p.ID)
	}

	for _, i := range ideologies {
		if i.ID == "" {
			return nil, fmt.Errorf("ideology with empty id")
		}
		if _, dup := c.ideologies[i.ID]; dup {
			return nil, fmt.Errorf("duplicate ideology id %q", i.ID)
		}
		coef := make(map[city.Dimension]float64, len(i.Coefficients))
		for d, v := range i.Coefficients {
			if !d.Valid() {
				return nil, fmt.Errorf("ideology %s: unknown dimension %q", i.ID, d)
			}
			coef[d] = v
		}
		i.Coefficients = coef
		c.ideologies[i.ID] = i
		c.ideologyIDs = append(c.ideologyIDs, i.ID)
	}

	sort.Strings(c.policyIDs)
	sort.Strings(c.ideologyIDs)

	digest, err := c.computeDigest()
	if err != nil {
		return nil, err
	}
	c.digest = digest
	return c, nil
}

// Policy returns the policy with the given id. The effects map is a copy.
func (c *Catalog) Policy(id string) (Policy, bool) {
	p, ok := c.policies[id]
	if !ok {
		return Policy{}, false
	}
	p.Effects = p.Effects.Clone()
	return p, true
}

// Ideology returns the ideology with the given id.
func (c *Catalog) Ideology(id string) (Ideology, bool) {
	i, ok := c.ideologies[id]
	if !ok {
		return Ideology{}, false
	}
	coef := make(map[city.Dimension]float64, len(i.Coefficients))
	for d, v := range i.Coefficients {
		coef[d] = v
	}
	i.Coefficients = coef
	return i, true
}

// PolicyIDs returns every policy id in sorted order.
func (c *Catalog) PolicyIDs() []string {
	return append([]string(nil), c.policyIDs...)
}

// IdeologyIDs returns every ideology id in sorted order.
func (c *Catalog) IdeologyIDs() []string {
	return append([]string(nil), c.ideologyIDs...)
}

// Policies returns every policy sorted by id.
func (c *Catalog) Policies() []Policy {
	out := make([]Policy, 0, len(c.policyIDs))
	for _, id := range c.policyIDs {
		p, _ := c.Policy(id)
		out = append(out, p)
	}
	return out
}

// Ideologies returns every ideology sorted by id.
func (c *Catalog) Ideologies() []Ideology {
	out := make([]Ideology, 0, len(c.ideologyIDs))
	for _, id := range c.ideologyIDs {
		i, _ := c.Ideology(id)
		out = append(out, i)
	}
	return out
}

// Digest identifies the catalog content. Rooms record it when dealt.
func (c *Catalog) Digest() string {
	return c.digest
}

func (c *Catalog) computeDigest() (string, error) {
	// encoding/json sorts map keys, so the encoding is canonical.
	b, err := json.Marshal(struct {
		Policies   []Policy   `json:"policies"`
		Ideologies []Ideology `json:"ideologies"`
	}{c.Policies(), c.Ideologies()})
	if err != nil {
		return "", fmt.Errorf("digest catalog: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
