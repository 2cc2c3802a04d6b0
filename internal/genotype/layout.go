package genotype

import (
	"fmt"
	"sort"
)

const (
	GeneX      = "x"
	GeneY      = "y"
	GeneZ      = "z"
	GeneRadius = "r"
	GeneRed    = "cr"
	GeneGreen  = "cg"
	GeneBlue   = "cb"
)

var objectGeneKinds = []string{GeneX, GeneY, GeneZ, GeneRadius, GeneRed, GeneGreen, GeneBlue}

// World is the axis-aligned box spheres are placed in.
type World struct {
	Width  float64
	Height float64
	Depth  float64
}

// Rates holds per-kind mutation probabilities.
type Rates struct {
	Position float64
	Radius   float64
	Color    float64
}

// Layout fixes the genome shape for a run: how many spheres, the world they
// live in and the bounds of every gene.
type Layout struct {
	Objects        int
	World          World
	MinRadius      float64
	MaxRadius      float64
	Rates          Rates
	MutationAmount float64
}

type GeneSpec struct {
	Name                string
	Object              int
	Kind                string
	Min                 float64
	Max                 float64
	MutationProbability float64
	MutationAmount      float64
}

func DefaultWorld() World {
	return World{Width: 20, Height: 20, Depth: 20}
}

func DefaultRates() Rates {
	return Rates{Position: 0.2, Radius: 0.1, Color: 0.05}
}

func DefaultLayout(objects int) Layout {
	return Layout{
		Objects:        objects,
		World:          DefaultWorld(),
		MinRadius:      0.5,
		MaxRadius:      1.0,
		Rates:          DefaultRates(),
		MutationAmount: 0.1,
	}
}

func (l Layout) Validate() error {
	if l.Objects <= 0 {
		return fmt.Errorf("object count must be > 0")
	}
	if l.World.Width <= 0 || l.World.Height <= 0 || l.World.Depth <= 0 {
		return fmt.Errorf("world dimensions must be > 0: %+v", l.World)
	}
	if l.MinRadius <= 0 || l.MaxRadius < l.MinRadius {
		return fmt.Errorf("invalid radius bounds: min=%f max=%f", l.MinRadius, l.MaxRadius)
	}
	for name, rate := range map[string]float64{"position": l.Rates.Position, "radius": l.Rates.Radius, "color": l.Rates.Color} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s mutation probability must be in [0,1], got %f", name, rate)
		}
	}
	if l.MutationAmount < 0 {
		return fmt.Errorf("mutation amount must be >= 0")
	}
	return nil
}

// GeneName returns the genome key for a gene kind of one object, e.g. "x_3".
func GeneName(kind string, object int) string {
	return fmt.Sprintf("%s_%d", kind, object)
}

// Specs lists every gene of the layout ordered by object, then kind.
func (l Layout) Specs() []GeneSpec {
	specs := make([]GeneSpec, 0, l.Objects*len(objectGeneKinds))
	for i := 0; i < l.Objects; i++ {
		for _, kind := range objectGeneKinds {
			spec := GeneSpec{Name: GeneName(kind, i), Object: i, Kind: kind, MutationAmount: l.MutationAmount}
			switch kind {
			case GeneX:
				spec.Max, spec.MutationProbability = l.World.Width, l.Rates.Position
			case GeneY:
				spec.Max, spec.MutationProbability = l.World.Height, l.Rates.Position
			case GeneZ:
				spec.Max, spec.MutationProbability = l.World.Depth, l.Rates.Position
			case GeneRadius:
				spec.Min, spec.Max, spec.MutationProbability = l.MinRadius, l.MaxRadius, l.Rates.Radius
			default:
				spec.Max, spec.MutationProbability = 1, l.Rates.Color
			}
			specs = append(specs, spec)
		}
	}
	return specs
}

func (l Layout) Names() []string {
	specs := l.Specs()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}
