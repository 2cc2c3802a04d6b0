package stats

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"reflector/internal/model"
)

func sampleHistory() []model.GenerationRecord {
	return []model.GenerationRecord{
		{Generation: 0, BestFitness: 900, MeanFitness: 1500, WorstFitness: 2000, Renders: 20, RenderMillis: 40},
		{Generation: 1, BestFitness: 700, MeanFitness: 1100, WorstFitness: 1900, Renders: 12, RenderErrors: 1, RenderMillis: 20},
		{Generation: 2, BestFitness: 700, MeanFitness: 1000, WorstFitness: 1700, StaleFor: 1, Renders: 11, CacheHits: 1, RenderMillis: 30.5},
	}
}

func sampleArtifacts(runID string) RunArtifacts {
	history := sampleHistory()
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			ReferencePath:  "ref.png",
			Width:          64,
			Height:         64,
			Objects:        20,
			PopulationSize: 20,
			Reduction:      "cubed_rms",
			Seed:           1,
		},
		State:       "EXHAUSTED",
		Generations: history,
		Best: model.BestOrganismRecord{
			RunID:      runID,
			Generation: 2,
			Organism:   model.Organism{ID: "o1", Fitness: 700},
			Scene:      "sphere { <1.000000, 2.000000, 3.000000>, 0.500000 }\n",
		},
		Summary: Summarize(runID, "EXHAUSTED", history),
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := sampleArtifacts(runID)
	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range runArtifactFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	scene, err := os.ReadFile(filepath.Join(runDir, BestSceneFile))
	if err != nil {
		t.Fatalf("read best scene: %v", err)
	}
	if string(scene) != artifacts.Best.Scene {
		t.Fatalf("unexpected best scene: %q", scene)
	}

	chart, err := os.ReadFile(filepath.Join(runDir, ChartFile))
	if err != nil {
		t.Fatalf("read chart: %v", err)
	}
	if !strings.Contains(string(chart), "run-123") {
		t.Fatal("expected chart title to name the run")
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range runArtifactFiles {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if diff := cmp.Diff(artifacts.Config, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	best, ok, err := ReadBestOrganism(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read best: ok=%t err=%v", ok, err)
	}
	if best.Organism.ID != "o1" || best.Scene != artifacts.Best.Scene {
		t.Fatalf("unexpected best organism: %+v", best)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestExportMissingRun(t *testing.T) {
	if _, err := ExportRunArtifacts(t.TempDir(), "nope", t.TempDir()); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestGenerationsCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), GenerationsFile)
	history := sampleHistory()
	if err := WriteGenerationsCSV(path, history); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	got, ok, err := ReadGenerationsCSV(path)
	if err != nil || !ok {
		t.Fatalf("read csv: ok=%t err=%v", ok, err)
	}
	if diff := cmp.Diff(history, got); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}

	if _, ok, err := ReadGenerationsCSV(filepath.Join(t.TempDir(), "missing.csv")); ok || err != nil {
		t.Fatalf("expected missing file to report not found, ok=%t err=%v", ok, err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("r", "EXHAUSTED", sampleHistory())
	if s.Generations != 2 || s.InitialBest != 900 || s.FinalBest != 700 || s.Improvement != 200 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.TotalRenders != 43 || s.TotalErrors != 1 || s.TotalCacheHits != 1 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if s.LastImproved != 1 {
		t.Fatalf("expected last improvement at generation 1, got=%d", s.LastImproved)
	}
	wantMean := (900.0 + 700 + 700) / 3
	if math.Abs(s.BestMean-wantMean) > 1e-9 {
		t.Fatalf("expected best mean %f, got=%f", wantMean, s.BestMean)
	}
	if s.BestStd <= 0 {
		t.Fatalf("expected positive stddev, got=%f", s.BestStd)
	}

	single := Summarize("r", "CONVERGED", sampleHistory()[:1])
	if single.BestStd != 0 || single.BestMean != 900 {
		t.Fatalf("unexpected single-generation summary: %+v", single)
	}
	if empty := Summarize("r", "INTERRUPTED", nil); empty.Generations != 0 || empty.State != "INTERRUPTED" {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}
}

func TestWriteFitnessChartHandlesNonPositiveValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ChartFile)
	history := []model.GenerationRecord{{Generation: 0, BestFitness: 0, MeanFitness: 3}}
	if err := WriteFitnessChart(path, "zero", history); err != nil {
		t.Fatalf("write chart: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected chart file: %v", err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		ReferencePath:    "ref.png",
		Objects:          20,
		PopulationSize:   20,
		Seed:             1,
		State:            "STAGNANT",
		FinalBestFitness: 800,
		CreatedAtUTC:     "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-2",
		ReferencePath:    "ref.png",
		Objects:          1,
		PopulationSize:   20,
		Seed:             2,
		State:            "CONVERGED",
		FinalBestFitness: 0.5,
		CreatedAtUTC:     "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		State:            "EXHAUSTED",
		FinalBestFitness: 600,
		CreatedAtUTC:     "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].FinalBestFitness != 600 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestListRunIndexEmpty(t *testing.T) {
	entries, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty index, got %+v", entries)
	}
}
