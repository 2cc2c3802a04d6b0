// Package fitness scores organisms by rendering them and comparing the result
// with the reference image. Lower is better.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"reflector/internal/genotype"
	"reflector/internal/imagediff"
	"reflector/internal/metrics"
	"reflector/internal/model"
	"reflector/internal/render"
)

const (
	DefaultRadiusPenalty  = 100.0
	DefaultFailurePenalty = 1e10
)

type Config struct {
	Layout    genotype.Layout
	Reference *imagediff.Reference
	Renderer  render.Renderer
	Reduction imagediff.Reduction
	// ScratchDir holds the per-evaluation scene and raster files. Empty means
	// the system temp directory.
	ScratchDir string
	// FilePrefix is prepended to scratch file names.
	FilePrefix     string
	RadiusPenalty  float64
	FailurePenalty float64
	Cache          *Cache
	Metrics        *metrics.Metrics
}

// Evaluator scores one organism. Implementations must be safe for concurrent
// use and must not modify the organism.
type Evaluator interface {
	Evaluate(ctx context.Context, org model.Organism) (float64, Timing, error)
}

// Pipeline is the render-and-compare Evaluator.
type Pipeline struct {
	cfg    Config
	width  int
	height int
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	if cfg.Reference == nil {
		return nil, errors.New("reference image is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cfg.Reduction == nil {
		cfg.Reduction = imagediff.CubedRMS{}
	}
	if cfg.RadiusPenalty < 0 {
		return nil, errors.New("radius penalty must be >= 0")
	}
	if cfg.FailurePenalty <= 0 {
		cfg.FailurePenalty = DefaultFailurePenalty
	}
	if cfg.ScratchDir != "" {
		if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	}
	bounds := cfg.Reference.Bounds()
	return &Pipeline{cfg: cfg, width: bounds.Dx(), height: bounds.Dy()}, nil
}

func (p *Pipeline) Reduction() imagediff.Reduction { return p.cfg.Reduction }

func (p *Pipeline) FailurePenalty() float64 { return p.cfg.FailurePenalty }

// Evaluate writes the organism's scene, renders it, and scores the raster.
// Renderer or raster failures yield the failure penalty instead of an error;
// only cancellation and scratch-file errors are returned. Scratch files are
// removed on every path.
func (p *Pipeline) Evaluate(ctx context.Context, org model.Organism) (float64, Timing, error) {
	var timing Timing
	if err := ctx.Err(); err != nil {
		return 0, timing, err
	}

	start := time.Now()
	doc := genotype.SceneDocument(p.cfg.Layout, org)
	penalty := p.cfg.RadiusPenalty * genotype.TotalRadius(p.cfg.Layout, org)
	if cached, ok := p.cfg.Cache.Get(doc); ok {
		timing.Generate = time.Since(start)
		timing.Outcome = OutcomeCached
		p.cfg.Metrics.ObserveCacheHit()
		return cached, timing, nil
	}

	scenePath, err := p.writeScene(doc)
	if err != nil {
		return 0, timing, err
	}
	rasterPath := strings.TrimSuffix(scenePath, ".pov") + ".png"
	defer removeScratch(scenePath, rasterPath)
	timing.Generate = time.Since(start)

	start = time.Now()
	output, err := p.cfg.Renderer.Render(ctx, scenePath, rasterPath, p.width, p.height)
	timing.Render = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, timing, ctxErr
	}
	if err != nil {
		klog.Warningf("render of organism %s failed, assigning penalty %g: %v\n%s", org.ID, p.cfg.FailurePenalty, err, strings.TrimSpace(string(output)))
		timing.Outcome = OutcomeRenderError
		p.observe(timing)
		return p.cfg.FailurePenalty, timing, nil
	}

	start = time.Now()
	score, err := p.analyse(rasterPath)
	timing.Analyse = time.Since(start)
	if err != nil {
		klog.Warningf("analysis of organism %s failed, assigning penalty %g: %v", org.ID, p.cfg.FailurePenalty, err)
		timing.Outcome = OutcomeImageError
		p.observe(timing)
		return p.cfg.FailurePenalty, timing, nil
	}

	fitness := score + penalty
	timing.Outcome = OutcomeOK
	p.observe(timing)
	p.cfg.Cache.Put(doc, fitness)
	klog.V(2).Infof("organism %s fitness=%f (image=%f radius_penalty=%f)", org.ID, fitness, score, penalty)
	return fitness, timing, nil
}

func (p *Pipeline) writeScene(doc string) (string, error) {
	f, err := os.CreateTemp(p.cfg.ScratchDir, p.cfg.FilePrefix+"*.pov")
	if err != nil {
		return "", fmt.Errorf("create scene file: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(doc); err != nil {
		_ = f.Close()
		removeScratch(path)
		return "", fmt.Errorf("write scene file: %w", err)
	}
	if err := f.Close(); err != nil {
		removeScratch(path)
		return "", fmt.Errorf("close scene file: %w", err)
	}
	return path, nil
}

func (p *Pipeline) analyse(rasterPath string) (float64, error) {
	img, err := imagediff.Load(rasterPath)
	if err != nil {
		return 0, err
	}
	stats, err := imagediff.Difference(p.cfg.Reference.Image(), img)
	if err != nil {
		return 0, err
	}
	return p.cfg.Reduction.Reduce(stats), nil
}

func (p *Pipeline) observe(t Timing) {
	p.cfg.Metrics.ObserveEvaluation(string(t.Outcome), t.Generate, t.Render, t.Analyse)
}

func removeScratch(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			klog.V(2).Infof("remove scratch file %s: %v", path, err)
		}
	}
}
