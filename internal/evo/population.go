package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"k8s.io/klog/v2"

	"reflector/internal/fitness"
	"reflector/internal/genotype"
	"reflector/internal/model"
)

var ErrNotInitialized = errors.New("population is not initialized")

type PopulationConfig struct {
	Layout          genotype.Layout
	Evaluator       fitness.Evaluator
	Selector        Selector
	InitPopulation  int
	ChildCount      int
	ChildCull       int
	MutantFraction  float64
	NumNewOrganisms int
	IncestThreshold int
	CrossoverPolicy genotype.CrossoverPolicy
	Workers         int
	Seed            int64
	// NewID names new organisms. Defaults to random UUIDs.
	NewID func() string
}

// DefaultPopulationConfig returns the classic parameters: 20 organisms, 10
// children per generation of which 2 are culled, 20% mutants, 2 immigrants.
func DefaultPopulationConfig(layout genotype.Layout, evaluator fitness.Evaluator) PopulationConfig {
	return PopulationConfig{
		Layout:          layout,
		Evaluator:       evaluator,
		Selector:        RankSelector{},
		InitPopulation:  20,
		ChildCount:      10,
		ChildCull:       2,
		MutantFraction:  0.2,
		NumNewOrganisms: 2,
		IncestThreshold: 1,
		CrossoverPolicy: genotype.CrossoverMendel,
		Workers:         1,
	}
}

// Population is a fixed-size set of organisms kept ranked by ascending
// fitness. It is driven by a single goroutine; only evaluation fans out.
type Population struct {
	cfg        PopulationConfig
	rng        *rand.Rand
	members    []model.Organism
	seq        uint64
	generation int
}

func NewPopulation(cfg PopulationConfig) (*Population, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.InitPopulation < 2 {
		return nil, fmt.Errorf("population size must be >= 2")
	}
	if cfg.ChildCount <= 0 {
		return nil, fmt.Errorf("child count must be > 0")
	}
	if cfg.ChildCull < 0 || cfg.ChildCull > cfg.ChildCount {
		return nil, fmt.Errorf("child cull must be in [0, child count]")
	}
	if cfg.MutantFraction < 0 || cfg.MutantFraction > 1 {
		return nil, fmt.Errorf("mutant fraction must be in [0,1]")
	}
	if cfg.NumNewOrganisms < 0 {
		return nil, fmt.Errorf("new organism count must be >= 0")
	}
	if cfg.IncestThreshold < 0 || cfg.IncestThreshold >= cfg.InitPopulation {
		return nil, fmt.Errorf("incest threshold must be in [0, population size)")
	}
	if cfg.Selector == nil {
		cfg.Selector = RankSelector{}
	}
	if cfg.CrossoverPolicy == "" {
		cfg.CrossoverPolicy = genotype.CrossoverMendel
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Population{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Initialize creates and evaluates the initial random organisms.
func (p *Population) Initialize(ctx context.Context) (fitness.GenerationStats, error) {
	members := make([]model.Organism, 0, p.cfg.InitPopulation)
	for i := 0; i < p.cfg.InitPopulation; i++ {
		members = append(members, p.newRandom())
	}
	stats, err := p.evaluate(ctx, members)
	if err != nil {
		return stats, err
	}
	rankOrganisms(members)
	p.members = members
	p.generation = 0
	return stats, nil
}

// AdvanceGeneration breeds, evaluates and culls one generation. On error the
// population keeps its previous members.
func (p *Population) AdvanceGeneration(ctx context.Context) (fitness.GenerationStats, error) {
	var stats fitness.GenerationStats
	if len(p.members) == 0 {
		return stats, ErrNotInitialized
	}

	born := p.generation + 1
	children := make([]model.Organism, 0, p.cfg.ChildCount)
	for k := 0; k < p.cfg.ChildCount; k++ {
		i, j, err := p.cfg.Selector.PickPair(p.rng, len(p.members), p.cfg.IncestThreshold)
		if err != nil {
			return stats, fmt.Errorf("select parents: %w", err)
		}
		child, err := genotype.Crossover(p.members[i], p.members[j], p.cfg.NewID(), p.rng, p.cfg.CrossoverPolicy)
		if err != nil {
			return stats, err
		}
		p.stamp(&child, born)
		children = append(children, child)
	}

	mutants := int(math.Round(p.cfg.MutantFraction * float64(len(children))))
	for _, idx := range p.rng.Perm(len(children))[:mutants] {
		genotype.Mutate(&children[idx], p.rng)
	}

	childStats, err := p.evaluate(ctx, children)
	stats.Merge(childStats)
	if err != nil {
		return stats, err
	}
	rankOrganisms(children)
	children = children[:len(children)-p.cfg.ChildCull]

	immigrants := make([]model.Organism, 0, p.cfg.NumNewOrganisms)
	for k := 0; k < p.cfg.NumNewOrganisms; k++ {
		org := p.newRandom()
		org.Generation = born
		immigrants = append(immigrants, org)
	}
	immigrantStats, err := p.evaluate(ctx, immigrants)
	stats.Merge(immigrantStats)
	if err != nil {
		return stats, err
	}

	merged := make([]model.Organism, 0, len(p.members)+len(children)+len(immigrants))
	merged = append(merged, p.members...)
	merged = append(merged, children...)
	merged = append(merged, immigrants...)
	rankOrganisms(merged)
	p.members = merged[:p.cfg.InitPopulation]
	p.generation = born
	klog.V(2).Infof("generation %d: %d children (%d mutants, %d culled), %d immigrants", born, len(children)+p.cfg.ChildCull, mutants, p.cfg.ChildCull, len(immigrants))
	return stats, nil
}

// Best returns a copy of the lowest-fitness organism.
func (p *Population) Best() (model.Organism, error) {
	if len(p.members) == 0 {
		return model.Organism{}, ErrNotInitialized
	}
	return genotype.Clone(p.members[0], p.members[0].ID), nil
}

// Organisms returns copies of all members, best first.
func (p *Population) Organisms() []model.Organism {
	out := make([]model.Organism, 0, len(p.members))
	for _, org := range p.members {
		out = append(out, genotype.Clone(org, org.ID))
	}
	return out
}

func (p *Population) Size() int { return len(p.members) }

func (p *Population) Generation() int { return p.generation }

// Summary is best, mean and worst fitness of the current members.
type Summary struct {
	Best  float64
	Mean  float64
	Worst float64
}

func (p *Population) Summary() Summary {
	if len(p.members) == 0 {
		return Summary{}
	}
	total := 0.0
	for _, org := range p.members {
		total += org.Fitness
	}
	return Summary{
		Best:  p.members[0].Fitness,
		Mean:  total / float64(len(p.members)),
		Worst: p.members[len(p.members)-1].Fitness,
	}
}

func (p *Population) newRandom() model.Organism {
	org := genotype.NewRandomOrganism(p.cfg.Layout, p.cfg.NewID(), p.rng)
	p.stamp(&org, p.generation)
	return org
}

func (p *Population) stamp(org *model.Organism, generation int) {
	p.seq++
	org.Seq = p.seq
	org.Generation = generation
}

// evaluate scores every organism that lacks a fitness, with at most Workers
// evaluations in flight. It returns once all of them have finished.
func (p *Population) evaluate(ctx context.Context, orgs []model.Organism) (fitness.GenerationStats, error) {
	var stats fitness.GenerationStats
	timings := make([]fitness.Timing, len(orgs))
	done := make([]bool, len(orgs))

	workers := pool.New().WithMaxGoroutines(p.cfg.Workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for i := range orgs {
		if orgs[i].Evaluated {
			continue
		}
		org := orgs[i]
		workers.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, timing, err := p.cfg.Evaluator.Evaluate(ctx, org)
			if err != nil {
				return fmt.Errorf("evaluate organism %s: %w", org.ID, err)
			}
			orgs[i].Fitness = score
			orgs[i].Evaluated = true
			timings[i] = timing
			done[i] = true
			return nil
		})
	}
	err := workers.Wait()
	for i, ok := range done {
		if ok {
			stats.Add(timings[i])
		}
	}
	return stats, err
}

func rankOrganisms(orgs []model.Organism) {
	sort.Slice(orgs, func(i, j int) bool {
		if orgs[i].Fitness != orgs[j].Fitness {
			return orgs[i].Fitness < orgs[j].Fitness
		}
		return orgs[i].Seq < orgs[j].Seq
	})
}
