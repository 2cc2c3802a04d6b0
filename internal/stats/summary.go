package stats

import (
	"gonum.org/v1/gonum/stat"

	"reflector/internal/model"
)

// Summary condenses the per-generation history of a run.
type Summary struct {
	RunID            string  `json:"run_id"`
	State            string  `json:"state"`
	Generations      int     `json:"generations"`
	InitialBest      float64 `json:"initial_best"`
	FinalBest        float64 `json:"final_best"`
	Improvement      float64 `json:"improvement"`
	BestMean         float64 `json:"best_mean"`
	BestStd          float64 `json:"best_std"`
	LastImproved     int     `json:"last_improved_generation"`
	TotalRenders     int     `json:"total_renders"`
	TotalErrors      int     `json:"total_render_errors"`
	TotalCacheHits   int     `json:"total_cache_hits"`
	RenderMillisMean float64 `json:"render_ms_per_generation_mean"`
	ElapsedMillis    float64 `json:"elapsed_ms"`
}

func Summarize(runID, state string, history []model.GenerationRecord) Summary {
	summary := Summary{RunID: runID, State: state}
	if len(history) == 0 {
		return summary
	}

	best := make([]float64, 0, len(history))
	render := make([]float64, 0, len(history))
	for _, g := range history {
		best = append(best, g.BestFitness)
		render = append(render, g.RenderMillis)
		summary.TotalRenders += g.Renders
		summary.TotalErrors += g.RenderErrors
		summary.TotalCacheHits += g.CacheHits
		summary.ElapsedMillis += g.ElapsedMillis
		if g.StaleFor == 0 {
			summary.LastImproved = g.Generation
		}
	}

	summary.Generations = history[len(history)-1].Generation
	summary.InitialBest = best[0]
	summary.FinalBest = best[len(best)-1]
	summary.Improvement = summary.InitialBest - summary.FinalBest
	if len(best) > 1 {
		summary.BestMean, summary.BestStd = stat.MeanStdDev(best, nil)
	} else {
		summary.BestMean = best[0]
	}
	summary.RenderMillisMean = stat.Mean(render, nil)
	return summary
}
