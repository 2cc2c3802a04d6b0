package genotype

import (
	"fmt"
	"math/rand"
	"time"

	"reflector/internal/model"
)

// CrossoverPolicy decides how a child gene value is derived from two parents.
type CrossoverPolicy string

const (
	// CrossoverMendel gives the child one parent's value, chosen 50/50.
	CrossoverMendel CrossoverPolicy = "mendel"
	// CrossoverBlend gives the child the arithmetic mean of both parents.
	CrossoverBlend CrossoverPolicy = "blend"
)

func ParseCrossoverPolicy(name string) (CrossoverPolicy, error) {
	switch CrossoverPolicy(name) {
	case "", CrossoverMendel:
		return CrossoverMendel, nil
	case CrossoverBlend:
		return CrossoverBlend, nil
	default:
		return "", fmt.Errorf("unsupported crossover policy: %s", name)
	}
}

// RandomizeGene resamples the value uniformly within the gene bounds.
func RandomizeGene(g *model.Gene, rng *rand.Rand) {
	rng = ensureRNG(rng)
	g.Value = g.Min + rng.Float64()*(g.Max-g.Min)
	clampGene(g)
}

// MutateGene perturbs the value with probability MutationProbability. A
// non-positive MutationAmount resamples across the full range, otherwise the
// delta is bounded by MutationAmount*(Max-Min). The result is clamped.
func MutateGene(g *model.Gene, rng *rand.Rand) bool {
	rng = ensureRNG(rng)
	if g.MutationProbability <= 0 || rng.Float64() >= g.MutationProbability {
		return false
	}
	if g.MutationAmount <= 0 {
		RandomizeGene(g, rng)
		return true
	}
	span := g.Max - g.Min
	g.Value += (rng.Float64()*2 - 1) * g.MutationAmount * span
	clampGene(g)
	return true
}

// CrossoverGene derives a child gene. Bounds and mutation settings come from a.
func CrossoverGene(a, b model.Gene, rng *rand.Rand, policy CrossoverPolicy) model.Gene {
	child := a
	switch policy {
	case CrossoverBlend:
		child.Value = (a.Value + b.Value) / 2
	default:
		rng = ensureRNG(rng)
		if rng.Intn(2) == 1 {
			child.Value = b.Value
		}
	}
	clampGene(&child)
	return child
}

func clampGene(g *model.Gene) {
	if g.Value < g.Min {
		g.Value = g.Min
	}
	if g.Value > g.Max {
		g.Value = g.Max
	}
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
