package genotype

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"reflector/internal/model"
	"reflector/internal/scene"
)

var ErrGenomeMismatch = errors.New("genome parameter sets differ")

// NewOrganism builds an organism with every layout gene at its lower bound.
// Call InitializeRandom before evaluating it.
func NewOrganism(layout Layout, id string) model.Organism {
	specs := layout.Specs()
	genes := make(map[string]model.Gene, len(specs))
	for _, spec := range specs {
		genes[spec.Name] = model.Gene{
			Value:               spec.Min,
			Min:                 spec.Min,
			Max:                 spec.Max,
			MutationProbability: spec.MutationProbability,
			MutationAmount:      spec.MutationAmount,
		}
	}
	return model.Organism{ID: id, Genes: genes}
}

// NewRandomOrganism is NewOrganism followed by InitializeRandom.
func NewRandomOrganism(layout Layout, id string, rng *rand.Rand) model.Organism {
	org := NewOrganism(layout, id)
	InitializeRandom(&org, rng)
	return org
}

// InitializeRandom randomizes every gene in sorted name order so a fixed seed
// yields a fixed organism.
func InitializeRandom(org *model.Organism, rng *rand.Rand) {
	rng = ensureRNG(rng)
	for _, name := range GeneNames(*org) {
		g := org.Genes[name]
		RandomizeGene(&g, rng)
		org.Genes[name] = g
	}
	org.Evaluated = false
	org.Fitness = 0
}

// Mutate applies MutateGene to every gene and reports how many changed.
// Only call it on a fresh child; it clears the cached fitness.
func Mutate(org *model.Organism, rng *rand.Rand) int {
	rng = ensureRNG(rng)
	changed := 0
	for _, name := range GeneNames(*org) {
		g := org.Genes[name]
		if MutateGene(&g, rng) {
			changed++
		}
		org.Genes[name] = g
	}
	org.Evaluated = false
	org.Fitness = 0
	return changed
}

// Crossover derives a child gene by gene. Parents are read only.
func Crossover(a, b model.Organism, id string, rng *rand.Rand, policy CrossoverPolicy) (model.Organism, error) {
	if !SameGeneNames(a, b) {
		return model.Organism{}, fmt.Errorf("crossover %s x %s: %w", a.ID, b.ID, ErrGenomeMismatch)
	}
	rng = ensureRNG(rng)
	child := model.Organism{
		ID:      id,
		Genes:   make(map[string]model.Gene, len(a.Genes)),
		Parents: []string{a.ID, b.ID},
	}
	for _, name := range GeneNames(a) {
		child.Genes[name] = CrossoverGene(a.Genes[name], b.Genes[name], rng, policy)
	}
	return child, nil
}

// Clone deep-copies an organism under a new id.
func Clone(org model.Organism, id string) model.Organism {
	out := org
	out.ID = id
	out.Genes = make(map[string]model.Gene, len(org.Genes))
	for name, g := range org.Genes {
		out.Genes[name] = g
	}
	out.Parents = append([]string(nil), org.Parents...)
	return out
}

func GeneNames(org model.Organism) []string {
	names := make([]string, 0, len(org.Genes))
	for name := range org.Genes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func SameGeneNames(a, b model.Organism) bool {
	if len(a.Genes) != len(b.Genes) {
		return false
	}
	for name := range a.Genes {
		if _, ok := b.Genes[name]; !ok {
			return false
		}
	}
	return true
}

// TotalRadius sums the radius genes of all layout objects.
func TotalRadius(layout Layout, org model.Organism) float64 {
	total := 0.0
	for i := 0; i < layout.Objects; i++ {
		total += org.Genes[GeneName(GeneRadius, i)].Value
	}
	return total
}

// Scene builds the structured scene for an organism.
func Scene(layout Layout, org model.Organism) *scene.Document {
	value := func(kind string, i int) float64 {
		return org.Genes[GeneName(kind, i)].Value
	}
	doc := &scene.Document{}
	doc.Add(scene.Preamble(scene.Box{
		Width:  layout.World.Width,
		Height: layout.World.Height,
		Depth:  layout.World.Depth,
	})...)
	for i := 0; i < layout.Objects; i++ {
		doc.Add(scene.Sphere{
			Center: scene.Vector{X: value(GeneX, i), Y: value(GeneY, i), Z: value(GeneZ, i)},
			Radius: value(GeneRadius, i),
			Color:  scene.RGB{R: value(GeneRed, i), G: value(GeneGreen, i), B: value(GeneBlue, i)},
		})
	}
	return doc
}

// SceneDocument serializes an organism. It performs no I/O and uses no
// randomness.
func SceneDocument(layout Layout, org model.Organism) string {
	return Scene(layout, org).String()
}

// Describe renders the genome compactly for logs, in sorted name order.
func Describe(org model.Organism) string {
	names := GeneNames(org)
	out := make([]byte, 0, len(names)*12)
	for i, name := range names {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, name...)
		out = append(out, '=')
		out = append(out, scene.FormatFloat(org.Genes[name].Value)...)
	}
	return string(out)
}
