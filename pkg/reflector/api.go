package reflector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"reflector/internal/evo"
	"reflector/internal/fitness"
	"reflector/internal/genotype"
	"reflector/internal/imagediff"
	"reflector/internal/metrics"
	"reflector/internal/model"
	"reflector/internal/render"
	"reflector/internal/stats"
	"reflector/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "reflector.db"

	// ScaledReferenceFile is written to the output dir of every run.
	ScaledReferenceFile = "ref_img_scaled.png"

	previewTimeout     = 30 * time.Second
	previewDrainWindow = 10 * time.Second
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	// Renderer replaces the POV-Ray subprocess, mainly for tests.
	Renderer render.Renderer
	Metrics  *metrics.Metrics
}

type Client struct {
	storeKind string
	dbPath    string
	store     storage.Store

	runsDir    string
	exportsDir string
	renderer   render.Renderer
	metrics    *metrics.Metrics
}

// RunRequest carries every search parameter. Start from DefaultRunRequest:
// zero is a meaningful value for several fields (no culling, no immigrants,
// no incest restriction) so Run only fills fields where zero is invalid.
type RunRequest struct {
	ReferencePath string
	OutputDir     string
	Width         int
	Height        int
	Objects       int

	Population      int
	ChildCount      int
	ChildCull       int
	MutantFraction  float64
	NewOrganisms    int
	IncestThreshold int

	PositionRate   float64
	RadiusRate     float64
	ColorRate      float64
	MutationAmount float64
	MinRadius      float64
	MaxRadius      float64
	WorldWidth     float64
	WorldHeight    float64
	WorldDepth     float64

	CrossoverPolicy string
	Selection       string
	Reduction       string
	RadiusPenalty   float64
	FailurePenalty  float64

	AcceptanceThreshold float64
	MinGenerations      int
	StagnationWindow    int
	MaxGenerations      int

	Workers int
	// Seed 0 picks a time based seed; the chosen seed is recorded with the run.
	Seed           int64
	RendererBinary string
	RenderArgs     []string
	Previews       bool
	PreviewWorkers int
	FitnessCache   bool
	ScratchDir     string

	Progress func(evo.Progress)
}

func DefaultRunRequest() RunRequest {
	layout := genotype.DefaultLayout(20)
	pop := evo.DefaultPopulationConfig(layout, nil)
	return RunRequest{
		OutputDir:           fmt.Sprintf("gendir-%d", os.Getpid()),
		Width:               64,
		Height:              64,
		Objects:             layout.Objects,
		Population:          pop.InitPopulation,
		ChildCount:          pop.ChildCount,
		ChildCull:           pop.ChildCull,
		MutantFraction:      pop.MutantFraction,
		NewOrganisms:        pop.NumNewOrganisms,
		IncestThreshold:     pop.IncestThreshold,
		PositionRate:        layout.Rates.Position,
		RadiusRate:          layout.Rates.Radius,
		ColorRate:           layout.Rates.Color,
		MutationAmount:      layout.MutationAmount,
		MinRadius:           layout.MinRadius,
		MaxRadius:           layout.MaxRadius,
		WorldWidth:          layout.World.Width,
		WorldHeight:         layout.World.Height,
		WorldDepth:          layout.World.Depth,
		CrossoverPolicy:     string(genotype.CrossoverMendel),
		Selection:           "rank",
		Reduction:           imagediff.CubedRMS{}.Name(),
		RadiusPenalty:       fitness.DefaultRadiusPenalty,
		FailurePenalty:      fitness.DefaultFailurePenalty,
		AcceptanceThreshold: evo.DefaultAcceptanceThreshold,
		MinGenerations:      evo.DefaultMinGenerations,
		StagnationWindow:    evo.DefaultStagnationWindow,
		MaxGenerations:      evo.DefaultMaxGenerations,
		Workers:             4,
		Previews:            true,
		PreviewWorkers:      2,
		FitnessCache:        true,
	}
}

type RunSummary struct {
	RunID        string
	State        evo.State
	Generation   int
	BestFitness  float64
	Best         model.Organism
	BestScene    string
	Seed         int64
	OutputDir    string
	ArtifactsDir string
	History      []model.GenerationRecord
	Totals       fitness.GenerationStats
	Elapsed      time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	ReferencePath    string
	Objects          int
	Population       int
	Seed             int64
	Reduction        string
	State            string
	Generations      int
	FinalBestFitness float64
	TotalRenders     int
}

type BestRequest struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	switch storeKind {
	case "memory", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported store kind: %s", storeKind)
	}

	return &Client{
		storeKind:  storeKind,
		dbPath:     dbPath,
		runsDir:    runsDir,
		exportsDir: exportsDir,
		renderer:   opts.Renderer,
		metrics:    opts.Metrics,
	}, nil
}

func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) (storage.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := storage.NewStore(c.storeKind, c.dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("init store: %w", err)
	}
	c.store = store
	return store, nil
}

// Run performs one complete search. Cancelling ctx is not an error: the run
// ends INTERRUPTED and is still persisted with the best organism found.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.ReferencePath == "" {
		return RunSummary{}, errors.New("reference image path is required")
	}
	if req.OutputDir == "" {
		req.OutputDir = fmt.Sprintf("gendir-%d", os.Getpid())
	}
	if req.Width <= 0 {
		req.Width = 64
	}
	if req.Height <= 0 {
		req.Height = 64
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	if req.PreviewWorkers <= 0 {
		req.PreviewWorkers = 1
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}

	layout := genotype.Layout{
		Objects:        req.Objects,
		World:          genotype.World{Width: req.WorldWidth, Height: req.WorldHeight, Depth: req.WorldDepth},
		MinRadius:      req.MinRadius,
		MaxRadius:      req.MaxRadius,
		Rates:          genotype.Rates{Position: req.PositionRate, Radius: req.RadiusRate, Color: req.ColorRate},
		MutationAmount: req.MutationAmount,
	}
	if err := layout.Validate(); err != nil {
		return RunSummary{}, fmt.Errorf("invalid layout: %w", err)
	}
	policy, err := genotype.ParseCrossoverPolicy(req.CrossoverPolicy)
	if err != nil {
		return RunSummary{}, err
	}
	selector, err := evo.SelectorFromName(req.Selection)
	if err != nil {
		return RunSummary{}, err
	}
	reduction, err := imagediff.ReductionFromName(req.Reduction)
	if err != nil {
		return RunSummary{}, err
	}

	renderer := c.renderer
	rendererName := "custom"
	if renderer == nil {
		povray := render.POVRay{Binary: req.RendererBinary, ExtraArgs: req.RenderArgs}
		if _, err := povray.Lookup(); err != nil {
			return RunSummary{}, err
		}
		renderer = povray
		rendererName = povray.Binary
		if rendererName == "" {
			rendererName = "povray"
		}
	}

	ref, err := imagediff.LoadReference(req.ReferencePath, req.Width, req.Height)
	if err != nil {
		return RunSummary{}, err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return RunSummary{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := ref.Save(filepath.Join(req.OutputDir, ScaledReferenceFile)); err != nil {
		return RunSummary{}, fmt.Errorf("save scaled reference: %w", err)
	}

	store, err := c.ensureStore(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	var cache *fitness.Cache
	if req.FitnessCache {
		cache = fitness.NewCache(0)
	}
	pipeline, err := fitness.NewPipeline(fitness.Config{
		Layout:         layout,
		Reference:      ref,
		Renderer:       renderer,
		Reduction:      reduction,
		ScratchDir:     req.ScratchDir,
		FilePrefix:     "reflector-",
		RadiusPenalty:  req.RadiusPenalty,
		FailurePenalty: req.FailurePenalty,
		Cache:          cache,
		Metrics:        c.metrics,
	})
	if err != nil {
		return RunSummary{}, err
	}
	pop, err := evo.NewPopulation(evo.PopulationConfig{
		Layout:          layout,
		Evaluator:       pipeline,
		Selector:        selector,
		InitPopulation:  req.Population,
		ChildCount:      req.ChildCount,
		ChildCull:       req.ChildCull,
		MutantFraction:  req.MutantFraction,
		NumNewOrganisms: req.NewOrganisms,
		IncestThreshold: req.IncestThreshold,
		CrossoverPolicy: policy,
		Workers:         req.Workers,
		Seed:            req.Seed,
	})
	if err != nil {
		return RunSummary{}, err
	}
	var preview *render.Background
	if req.Previews {
		preview = render.NewBackground(renderer, req.Width, req.Height, req.PreviewWorkers, previewTimeout)
	}
	controller, err := evo.NewController(evo.ControllerConfig{
		Population:          pop,
		Layout:              layout,
		AcceptanceThreshold: req.AcceptanceThreshold,
		MinGenerations:      req.MinGenerations,
		StagnationWindow:    req.StagnationWindow,
		MaxGenerations:      req.MaxGenerations,
		OutputDir:           req.OutputDir,
		Preview:             preview,
		Metrics:             c.metrics,
		Progress:            req.Progress,
	})
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("%s-%s", now.Format("20060102T150405Z"), uuid.NewString()[:8])
	klog.V(1).Infof("run %s: reference=%s objects=%d population=%d seed=%d reduction=%s", runID, req.ReferencePath, layout.Objects, req.Population, req.Seed, reduction.Name())

	result, err := controller.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	if preview != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), previewDrainWindow)
		if err := preview.Wait(drainCtx); err != nil {
			klog.Warningf("previews still running after %s: %v", previewDrainWindow, err)
		}
		cancel()
	}

	bestScene := ""
	if result.Best.ID != "" {
		bestScene = genotype.SceneDocument(layout, result.Best)
	}
	bestRecord := model.BestOrganismRecord{
		VersionedRecord: storage.NewVersionedRecord(),
		RunID:           runID,
		Generation:      result.Generation,
		Organism:        result.Best,
		Scene:           bestScene,
	}
	finalBest := result.Best.Fitness
	runRecord := model.RunRecord{
		VersionedRecord:   storage.NewVersionedRecord(),
		ID:                runID,
		CreatedAtUTC:      now.Format(time.RFC3339),
		ReferencePath:     req.ReferencePath,
		OutputDir:         req.OutputDir,
		Objects:           layout.Objects,
		PopulationSize:    req.Population,
		Seed:              req.Seed,
		Reduction:         reduction.Name(),
		State:             string(result.State),
		Generations:       result.Generation,
		FinalBestFitness:  finalBest,
		TotalRenders:      result.Totals.Renders,
		TotalRenderErrors: result.Totals.RenderErrors,
	}

	// Persist with a fresh context so an interrupted run is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	if err := store.SaveRun(saveCtx, runRecord); err != nil {
		return RunSummary{}, fmt.Errorf("save run: %w", err)
	}
	if err := store.SaveGenerations(saveCtx, runID, result.History); err != nil {
		return RunSummary{}, fmt.Errorf("save generations: %w", err)
	}
	if result.Best.ID != "" {
		if err := store.SaveBestOrganism(saveCtx, bestRecord); err != nil {
			return RunSummary{}, fmt.Errorf("save best organism: %w", err)
		}
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:               runID,
			ReferencePath:       req.ReferencePath,
			OutputDir:           req.OutputDir,
			Width:               req.Width,
			Height:              req.Height,
			Objects:             layout.Objects,
			PopulationSize:      req.Population,
			ChildCount:          req.ChildCount,
			ChildCull:           req.ChildCull,
			MutantFraction:      req.MutantFraction,
			NewOrganisms:        req.NewOrganisms,
			IncestThreshold:     req.IncestThreshold,
			CrossoverPolicy:     string(policy),
			Selection:           selector.Name(),
			Reduction:           reduction.Name(),
			RadiusPenalty:       req.RadiusPenalty,
			FailurePenalty:      pipeline.FailurePenalty(),
			AcceptanceThreshold: req.AcceptanceThreshold,
			MinGenerations:      req.MinGenerations,
			StagnationWindow:    req.StagnationWindow,
			MaxGenerations:      req.MaxGenerations,
			Workers:             req.Workers,
			Seed:                req.Seed,
			Renderer:            rendererName,
			FitnessCache:        req.FitnessCache,
		},
		State:       string(result.State),
		Generations: result.History,
		Best:        bestRecord,
		Summary:     stats.Summarize(runID, string(result.State), result.History),
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:            runID,
		ReferencePath:    req.ReferencePath,
		Objects:          layout.Objects,
		PopulationSize:   req.Population,
		Seed:             req.Seed,
		Reduction:        reduction.Name(),
		State:            string(result.State),
		Generations:      result.Generation,
		FinalBestFitness: finalBest,
		TotalRenders:     result.Totals.Renders,
		CreatedAtUTC:     runRecord.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:        runID,
		State:        result.State,
		Generation:   result.Generation,
		BestFitness:  finalBest,
		Best:         result.Best,
		BestScene:    bestScene,
		Seed:         req.Seed,
		OutputDir:    req.OutputDir,
		ArtifactsDir: runDir,
		History:      result.History,
		Totals:       result.Totals,
		Elapsed:      result.Elapsed,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	items := make([]RunItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, RunItem{
			RunID:            entry.RunID,
			CreatedAtUTC:     entry.CreatedAtUTC,
			ReferencePath:    entry.ReferencePath,
			Objects:          entry.Objects,
			Population:       entry.PopulationSize,
			Seed:             entry.Seed,
			Reduction:        entry.Reduction,
			State:            entry.State,
			Generations:      entry.Generations,
			FinalBestFitness: entry.FinalBestFitness,
			TotalRenders:     entry.TotalRenders,
		})
	}
	return items, nil
}

// Best returns the best organism of a run, from the store or, failing that,
// from the run's artifacts.
func (c *Client) Best(ctx context.Context, req BestRequest) (model.BestOrganismRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.BestOrganismRecord{}, err
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return model.BestOrganismRecord{}, err
	}
	record, ok, err := store.GetBestOrganism(ctx, runID)
	if err != nil {
		return model.BestOrganismRecord{}, err
	}
	if ok {
		return record, nil
	}
	record, ok, err = stats.ReadBestOrganism(c.runsDir, runID)
	if err != nil {
		return model.BestOrganismRecord{}, err
	}
	if !ok {
		return model.BestOrganismRecord{}, fmt.Errorf("best organism not found for run %s", runID)
	}
	return record, nil
}

// History returns per-generation records of a run. Limit keeps the most
// recent generations.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return nil, err
	}
	history, ok, err := store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadGenerationsCSV(filepath.Join(c.runsDir, runID, stats.GenerationsFile))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("history not found for run %s", runID)
		}
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	return history, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}
	dir, err := stats.ExportRunArtifacts(c.runsDir, runID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: dir}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest, not both")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
