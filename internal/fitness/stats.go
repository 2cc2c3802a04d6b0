package fitness

import "time"

// Outcome classifies one evaluation.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeRenderError Outcome = "render_error"
	OutcomeImageError  Outcome = "image_error"
	OutcomeCached      Outcome = "cached"
)

// Timing is the cost breakdown of one evaluation.
type Timing struct {
	Generate time.Duration
	Render   time.Duration
	Analyse  time.Duration
	Outcome  Outcome
}

// GenerationStats accumulates evaluation timings within a generation. The
// controller starts a fresh value at every generation boundary; evaluations
// return Timing and the single control goroutine folds them in.
type GenerationStats struct {
	Generate     time.Duration
	Render       time.Duration
	Analyse      time.Duration
	Renders      int
	RenderErrors int
	CacheHits    int
}

func (s *GenerationStats) Add(t Timing) {
	s.Generate += t.Generate
	s.Render += t.Render
	s.Analyse += t.Analyse
	switch t.Outcome {
	case OutcomeCached:
		s.CacheHits++
		return
	case OutcomeRenderError, OutcomeImageError:
		s.RenderErrors++
	}
	s.Renders++
}

func (s *GenerationStats) Merge(other GenerationStats) {
	s.Generate += other.Generate
	s.Render += other.Render
	s.Analyse += other.Analyse
	s.Renders += other.Renders
	s.RenderErrors += other.RenderErrors
	s.CacheHits += other.CacheHits
}
