// Package city holds the six-dimensional city state that every passed policy
// moves, and the collapse predicate over it.
package city

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Bounds for every dimension.
const (
	Floor      = 0
	Ceiling    = 100
	StartValue = 50
)

// Dimension names one axis of the city state. Values double as JSON keys.
type Dimension string

const (
	Economy     Dimension = "economy"
	Welfare     Dimension = "welfare"
	Education   Dimension = "education"
	Environment Dimension = "environment"
	Security    Dimension = "security"
	HumanRights Dimension = "humanRights"
)

// Dimensions lists every axis in canonical order.
var Dimensions = []Dimension{Economy, Welfare, Education, Environment, Security, HumanRights}

// Valid reports whether d is one of the six known dimensions.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// Effects is a signed delta per dimension. Missing keys mean zero.
type Effects map[Dimension]int

// Params is the city state snapshot stored on a room.
type Params struct {
	Economy     int `json:"economy"`
	Welfare     int `json:"welfare"`
	Education   int `json:"education"`
	Environment int `json:"environment"`
	Security    int `json:"security"`
	HumanRights int `json:"humanRights"`
}

// Start returns the opening city state. With amplitude 0 every dimension is
// StartValue; otherwise each dimension is offset by up to ±amplitude using
// noise seeded by seed, so the same seed always deals the same city.
func Start(seed int64, amplitude int) Params {
	p := Params{StartValue, StartValue, StartValue, StartValue, StartValue, StartValue}
	if amplitude <= 0 {
		return p
	}

	noise := opensimplex.NewNormalized(seed)
	for i, d := range Dimensions {
		// Sample along one row of the noise field; spacing keeps neighbours uncorrelated.
		v := noise.Eval2(float64(i)*1.618, 0.5)
		offset := int(math.Round((v*2 - 1) * float64(amplitude)))
		val := clamp(StartValue + offset)
		if val <= Floor {
			val = Floor + 1
		}
		p.set(d, val)
	}
	return p
}

// Get returns the value of one dimension.
func (p Params) Get(d Dimension) int {
	switch d {
	case Economy:
		return p.Economy
	case Welfare:
		return p.Welfare
	case Education:
		return p.Education
	case Environment:
		return p.Environment
	case Security:
		return p.Security
	case HumanRights:
		return p.HumanRights
	}
	return 0
}

func (p *Params) set(d Dimension, v int) {
	switch d {
	case Economy:
		p.Economy = v
	case Welfare:
		p.Welfare = v
	case Education:
		p.Education = v
	case Environment:
		p.Environment = v
	case Security:
		p.Security = v
	case HumanRights:
		p.HumanRights = v
	}
}

// Apply returns clamp(p + effects), clamped independently per dimension.
func (p Params) Apply(effects Effects) Params {
	out := p
	for _, d := range Dimensions {
		out.set(d, clamp(p.Get(d)+effects[d]))
	}
	return out
}

// Collapsed reports whether any dimension has reached the floor.
func (p Params) Collapsed() bool {
	for _, d := range Dimensions {
		if p.Get(d) <= Floor {
			return true
		}
	}
	return false
}

// InBounds reports whether every dimension lies within [Floor, Ceiling].
func (p Params) InBounds() bool {
	for _, d := range Dimensions {
		v := p.Get(d)
		if v < Floor || v > Ceiling {
			return false
		}
	}
	return true
}

// Map returns the params keyed by dimension.
func (p Params) Map() map[Dimension]int {
	m := make(map[Dimension]int, len(Dimensions))
	for _, d := range Dimensions {
		m[d] = p.Get(d)
	}
	return m
}

func (p Params) String() string {
	return fmt.Sprintf("eco=%d wel=%d edu=%d env=%d sec=%d hr=%d",
		p.Economy, p.Welfare, p.Education, p.Environment, p.Security, p.HumanRights)
}

// Clone returns an independent copy of the effects.
func (e Effects) Clone() Effects {
	if e == nil {
		return nil
	}
	out := make(Effects, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Bounded returns a copy with every delta limited to [-limit, limit] and
// unknown dimensions dropped.
func (e Effects) Bounded(limit int) Effects {
	out := make(Effects, len(Dimensions))
	for _, d := range Dimensions {
		v := e[d]
		if v > limit {
			v = limit
		}
		if v < -limit {
			v = -limit
		}
		out[d] = v
	}
	return out
}

// Zero returns an all-zero delta with every dimension present.
func Zero() Effects {
	out := make(Effects, len(Dimensions))
	for _, d := range Dimensions {
		out[d] = 0
	}
	return out
}

func clamp(v int) int {
	if v < Floor {
		return Floor
	}
	if v > Ceiling {
		return Ceiling
	}
	return v
}
