package evo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"reflector/internal/fitness"
	"reflector/internal/genotype"
	"reflector/internal/metrics"
	"reflector/internal/model"
	"reflector/internal/render"
	"reflector/internal/storage"
)

type State string

const (
	StateRunning     State = "RUNNING"
	StateConverged   State = "CONVERGED"
	StateStagnant    State = "STAGNANT"
	StateInterrupted State = "INTERRUPTED"
	StateExhausted   State = "EXHAUSTED"
)

func (s State) Terminal() bool { return s != StateRunning }

const (
	DefaultAcceptanceThreshold = 1.0
	DefaultMinGenerations      = 100
	DefaultStagnationWindow    = 30
	DefaultMaxGenerations      = 1000
)

// SnapshotName is the file name of the best scene of generation gen.
func SnapshotName(gen int) string {
	return fmt.Sprintf("generation_%05d.pov", gen)
}

// Progress is reported once per generation.
type Progress struct {
	Generation int
	State      State
	Best       float64
	Mean       float64
	StaleFor   int
	Improved   bool
	Elapsed    time.Duration
	Stats      fitness.GenerationStats
}

type ControllerConfig struct {
	Population          *Population
	Layout              genotype.Layout
	AcceptanceThreshold float64
	MinGenerations      int
	StagnationWindow    int
	MaxGenerations      int
	// OutputDir receives per-generation snapshots. Empty disables them.
	OutputDir string
	// Preview, when set, renders each snapshot in the background.
	Preview  *render.Background
	Metrics  *metrics.Metrics
	Progress func(Progress)
}

type Result struct {
	State      State
	Generation int
	Best       model.Organism
	History    []model.GenerationRecord
	Totals     fitness.GenerationStats
	Elapsed    time.Duration
}

type Controller struct {
	cfg ControllerConfig
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Population == nil {
		return nil, errors.New("population is required")
	}
	if cfg.MaxGenerations < 0 {
		return nil, errors.New("max generations must be >= 0")
	}
	if cfg.MinGenerations < 0 {
		return nil, errors.New("min generations must be >= 0")
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return &Controller{cfg: cfg}, nil
}

// Run drives generations until a terminal state. Cancellation of ctx is not
// an error: it ends the run as INTERRUPTED with the best organism so far.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	pop := c.cfg.Population
	start := time.Now()
	result := Result{State: StateRunning}

	genStart := start
	var stats fitness.GenerationStats
	if pop.Size() == 0 {
		var err error
		stats, err = pop.Initialize(ctx)
		result.Totals.Merge(stats)
		if err != nil {
			if ctx.Err() != nil {
				result.State = StateInterrupted
				result.Elapsed = time.Since(start)
				return result, nil
			}
			return result, fmt.Errorf("initialize population: %w", err)
		}
	}

	var tracker StagnationTracker
	for {
		gen := pop.Generation()
		best, err := pop.Best()
		if err != nil {
			return result, err
		}
		summary := pop.Summary()
		improved := tracker.Observe(gen, best.Fitness)
		result.Generation = gen
		result.Best = best

		state := c.nextState(gen, best.Fitness, &tracker)
		result.History = append(result.History, model.GenerationRecord{
			VersionedRecord: storage.NewVersionedRecord(),
			Generation:      gen,
			BestFitness:     summary.Best,
			MeanFitness:     summary.Mean,
			WorstFitness:    summary.Worst,
			StaleFor:        tracker.StaleFor(),
			Renders:         stats.Renders,
			RenderErrors:    stats.RenderErrors,
			CacheHits:       stats.CacheHits,
			GenerateMillis:  millis(stats.Generate),
			RenderMillis:    millis(stats.Render),
			AnalyseMillis:   millis(stats.Analyse),
			ElapsedMillis:   millis(time.Since(genStart)),
		})
		c.snapshot(gen, best)
		c.cfg.Metrics.ObserveGeneration(gen, best.Fitness)
		klog.V(1).Infof("generation %d best=%f mean=%f stale=%d renders=%d errors=%d cache_hits=%d", gen, summary.Best, summary.Mean, tracker.StaleFor(), stats.Renders, stats.RenderErrors, stats.CacheHits)
		if c.cfg.Progress != nil {
			c.cfg.Progress(Progress{
				Generation: gen,
				State:      state,
				Best:       best.Fitness,
				Mean:       summary.Mean,
				StaleFor:   tracker.StaleFor(),
				Improved:   improved,
				Elapsed:    time.Since(start),
				Stats:      stats,
			})
		}

		if state.Terminal() {
			result.State = state
			result.Elapsed = time.Since(start)
			return result, nil
		}
		if ctx.Err() != nil {
			result.State = StateInterrupted
			result.Elapsed = time.Since(start)
			return result, nil
		}

		genStart = time.Now()
		stats, err = pop.AdvanceGeneration(ctx)
		result.Totals.Merge(stats)
		if err != nil {
			if ctx.Err() != nil {
				result.State = StateInterrupted
				result.Elapsed = time.Since(start)
				return result, nil
			}
			return result, fmt.Errorf("advance generation %d: %w", gen+1, err)
		}
	}
}

func (c *Controller) nextState(gen int, best float64, tracker *StagnationTracker) State {
	switch {
	case best <= c.cfg.AcceptanceThreshold:
		return StateConverged
	case tracker.Stagnant(gen, c.cfg.MinGenerations, c.cfg.StagnationWindow):
		return StateStagnant
	case gen >= c.cfg.MaxGenerations:
		return StateExhausted
	default:
		return StateRunning
	}
}

// snapshot writes the best scene of gen and queues its preview. Failures are
// logged; they never stop the search.
func (c *Controller) snapshot(gen int, best model.Organism) {
	if c.cfg.OutputDir == "" {
		return
	}
	path := filepath.Join(c.cfg.OutputDir, SnapshotName(gen))
	if err := os.WriteFile(path, []byte(genotype.SceneDocument(c.cfg.Layout, best)), 0o644); err != nil {
		klog.Warningf("write snapshot %s: %v", path, err)
		return
	}
	if c.cfg.Preview == nil {
		return
	}
	out := path[:len(path)-len(filepath.Ext(path))] + ".png"
	if !c.cfg.Preview.Submit(path, out) {
		c.cfg.Metrics.ObservePreviewDropped()
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
