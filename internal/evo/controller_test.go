package evo

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflector/internal/fitness"
	"reflector/internal/genotype"
	"reflector/internal/imagediff"
	"reflector/internal/render"
	"reflector/internal/render/rendertest"
)

func newTestController(t *testing.T, pop *Population, mutate func(*ControllerConfig)) *Controller {
	t.Helper()
	cfg := ControllerConfig{
		Population:          pop,
		Layout:              genotype.DefaultLayout(2),
		AcceptanceThreshold: DefaultAcceptanceThreshold,
		MinGenerations:      DefaultMinGenerations,
		StagnationWindow:    DefaultStagnationWindow,
		MaxGenerations:      DefaultMaxGenerations,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	return c
}

func TestControllerConvergesImmediately(t *testing.T) {
	pop := newTestPopulation(t, constEvaluator(0.5), nil)
	res, err := newTestController(t, pop, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConverged, res.State)
	assert.Equal(t, 0, res.Generation)
	assert.Len(t, res.History, 1)
	assert.Equal(t, 0.5, res.Best.Fitness)
}

func TestControllerStagnates(t *testing.T) {
	pop := newTestPopulation(t, constEvaluator(5), nil)
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.MinGenerations = 3
		cfg.StagnationWindow = 2
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStagnant, res.State)
	assert.Equal(t, 3, res.Generation)
	require.Len(t, res.History, 4)
	assert.Equal(t, 3, res.History[3].StaleFor)
}

func TestControllerStagnatesWithoutVariation(t *testing.T) {
	// No mutation and no immigrants: crossover alone cannot beat a population
	// of clones, so the best never improves.
	layout := genotype.DefaultLayout(2)
	layout.Rates = genotype.Rates{}
	eval := &sumEvaluator{}
	pop := newTestPopulation(t, eval, func(cfg *PopulationConfig) {
		cfg.Layout = layout
		cfg.NumNewOrganisms = 0
		cfg.MutantFraction = 0
		cfg.InitPopulation = 2
		cfg.ChildCount = 2
		cfg.ChildCull = 0
	})
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.Layout = layout
		cfg.AcceptanceThreshold = -1
		cfg.MinGenerations = 5
		cfg.StagnationWindow = 3
		cfg.MaxGenerations = 500
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStagnant, res.State)
	assert.Less(t, res.Generation, 500)
}

func TestControllerExhaustsBudget(t *testing.T) {
	pop := newTestPopulation(t, &sumEvaluator{}, nil)
	var reports []Progress
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.AcceptanceThreshold = -1
		cfg.MaxGenerations = 4
		cfg.Progress = func(p Progress) { reports = append(reports, p) }
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, 4, res.Generation)
	require.Len(t, reports, 5)
	assert.Equal(t, StateRunning, reports[0].State)
	assert.Equal(t, StateExhausted, reports[4].State)
	assert.Equal(t, 20, reports[0].Stats.Renders)
	assert.Equal(t, 12, reports[1].Stats.Renders)
	assert.Equal(t, 20+4*12, res.Totals.Renders)
	for i := 1; i < len(res.History); i++ {
		assert.LessOrEqual(t, res.History[i].BestFitness, res.History[i-1].BestFitness)
	}
}

func TestControllerInterruptedBetweenGenerations(t *testing.T) {
	pop := newTestPopulation(t, &sumEvaluator{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.AcceptanceThreshold = -1
		cfg.Progress = func(p Progress) {
			if p.Generation == 2 {
				cancel()
			}
		}
	}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateInterrupted, res.State)
	assert.Equal(t, 2, res.Generation)
	assert.NotEmpty(t, res.Best.ID)
}

func TestControllerWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	layout := genotype.DefaultLayout(2)
	pop := newTestPopulation(t, &sumEvaluator{}, nil)
	preview := &rendertest.Solid{}
	bg := render.NewBackground(preview, 4, 4, 8, 0)
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.AcceptanceThreshold = -1
		cfg.MaxGenerations = 2
		cfg.OutputDir = dir
		cfg.Preview = bg
	}).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, bg.Wait(context.Background()))

	for gen := 0; gen <= 2; gen++ {
		_, err := os.Stat(filepath.Join(dir, SnapshotName(gen)))
		require.NoError(t, err, "snapshot for generation %d", gen)
	}
	last, err := os.ReadFile(filepath.Join(dir, SnapshotName(2)))
	require.NoError(t, err)
	assert.Equal(t, genotype.SceneDocument(layout, res.Best), string(last))
	assert.Equal(t, "generation_00002.pov", SnapshotName(2))

	stats := bg.Stats()
	assert.Equal(t, 3, stats.Done+stats.Dropped)
}

func TestInterruptedRunLeavesNoScratchFiles(t *testing.T) {
	scratch := t.TempDir()
	layout := genotype.DefaultLayout(2)
	ref := image.NewRGBA(image.Rect(0, 0, 4, 4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	solid := &rendertest.Solid{Color: color.Black}
	var calls atomic.Int64
	renderer := rendertest.Func(func(ctx context.Context, scenePath, out string, w, h int) ([]byte, error) {
		if calls.Add(1) == 30 {
			cancel()
		}
		return solid.Render(ctx, scenePath, out, w, h)
	})
	pipeline, err := fitness.NewPipeline(fitness.Config{
		Layout:        layout,
		Reference:     imagediff.NewReference("ref.png", ref, 4, 4),
		Renderer:      renderer,
		ScratchDir:    scratch,
		RadiusPenalty: fitness.DefaultRadiusPenalty,
	})
	require.NoError(t, err)

	pop := newTestPopulation(t, pipeline, nil)
	res, err := newTestController(t, pop, func(cfg *ControllerConfig) {
		cfg.AcceptanceThreshold = -1
	}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateInterrupted, res.State)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStagnationTracker(t *testing.T) {
	var s StagnationTracker
	assert.True(t, s.Observe(0, 10))
	assert.False(t, s.Observe(1, 10))
	assert.False(t, s.Observe(2, 11))
	assert.Equal(t, 2, s.StaleFor())
	assert.True(t, s.Stagnant(2, 0, 2))
	assert.False(t, s.Stagnant(2, 3, 2))
	assert.False(t, s.Stagnant(2, 0, 0))
	assert.True(t, s.Observe(3, 9))
	assert.Equal(t, 0, s.StaleFor())
	assert.Equal(t, 3, s.LastImproved())
	assert.Equal(t, 9.0, s.Best())
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(ControllerConfig{})
	assert.Error(t, err)
	pop := newTestPopulation(t, &sumEvaluator{}, nil)
	_, err = NewController(ControllerConfig{Population: pop, MaxGenerations: -1})
	assert.Error(t, err)
}
