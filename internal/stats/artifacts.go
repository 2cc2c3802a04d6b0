package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"reflector/internal/model"
)

const runIndexFile = "run_index.json"

// Artifact file names inside a run directory.
const (
	ConfigFile         = "config.json"
	FitnessHistoryFile = "fitness_history.json"
	GenerationsFile    = "generations.csv"
	BestOrganismFile   = "best_organism.json"
	BestSceneFile      = "best_scene.pov"
	SummaryFile        = "summary.json"
	ChartFile          = "fitness_chart.html"
)

var runArtifactFiles = []string{
	ConfigFile,
	FitnessHistoryFile,
	GenerationsFile,
	BestOrganismFile,
	BestSceneFile,
	SummaryFile,
	ChartFile,
}

type RunConfig struct {
	RunID               string  `json:"run_id"`
	ReferencePath       string  `json:"reference_path"`
	OutputDir           string  `json:"output_dir"`
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	Objects             int     `json:"objects"`
	PopulationSize      int     `json:"population_size"`
	ChildCount          int     `json:"child_count"`
	ChildCull           int     `json:"child_cull"`
	MutantFraction      float64 `json:"mutant_fraction"`
	NewOrganisms        int     `json:"new_organisms"`
	IncestThreshold     int     `json:"incest_threshold"`
	CrossoverPolicy     string  `json:"crossover_policy"`
	Selection           string  `json:"selection"`
	Reduction           string  `json:"reduction"`
	RadiusPenalty       float64 `json:"radius_penalty"`
	FailurePenalty      float64 `json:"failure_penalty"`
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	MinGenerations      int     `json:"min_generations"`
	StagnationWindow    int     `json:"stagnation_window"`
	MaxGenerations      int     `json:"max_generations"`
	Workers             int     `json:"workers"`
	Seed                int64   `json:"seed"`
	Renderer            string  `json:"renderer"`
	FitnessCache        bool    `json:"fitness_cache"`
}

type RunArtifacts struct {
	Config      RunConfig                `json:"config"`
	State       string                   `json:"state"`
	Generations []model.GenerationRecord `json:"generations"`
	Best        model.BestOrganismRecord `json:"best"`
	Summary     Summary                  `json:"summary"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	ReferencePath    string  `json:"reference_path"`
	Objects          int     `json:"objects"`
	PopulationSize   int     `json:"population_size"`
	Seed             int64   `json:"seed"`
	Reduction        string  `json:"reduction"`
	State            string  `json:"state"`
	Generations      int     `json:"generations"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	TotalRenders     int     `json:"total_renders"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes every artifact of a run into baseDir/<run id>.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	best := make([]float64, 0, len(artifacts.Generations))
	for _, g := range artifacts.Generations {
		best = append(best, g.BestFitness)
	}

	if err := writeJSON(filepath.Join(runDir, ConfigFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, FitnessHistoryFile), map[string]any{
		"state":              artifacts.State,
		"best_by_generation": best,
		"final_best_fitness": artifacts.Summary.FinalBest,
	}); err != nil {
		return "", err
	}
	if err := WriteGenerationsCSV(filepath.Join(runDir, GenerationsFile), artifacts.Generations); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, BestOrganismFile), artifacts.Best); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, BestSceneFile), []byte(artifacts.Best.Scene), 0o644); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, SummaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WriteFitnessChart(filepath.Join(runDir, ChartFile), artifacts.Config.RunID, artifacts.Generations); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies the artifacts of runID into outDir/<run id>.
// Artifacts missing from the source are skipped.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runArtifactFiles {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, ConfigFile), &cfg)
	return cfg, ok, err
}

func ReadBestOrganism(baseDir, runID string) (model.BestOrganismRecord, bool, error) {
	var record model.BestOrganismRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, BestOrganismFile), &record)
	return record, ok, err
}

func ReadSummary(baseDir, runID string) (Summary, bool, error) {
	var summary Summary
	ok, err := readJSON(filepath.Join(baseDir, runID, SummaryFile), &summary)
	return summary, ok, err
}

var generationsHeader = []string{
	"generation", "best_fitness", "mean_fitness", "worst_fitness", "stale_for",
	"renders", "render_errors", "cache_hits",
	"generate_ms", "render_ms", "analyse_ms", "elapsed_ms",
}

func WriteGenerationsCSV(path string, records []model.GenerationRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(generationsHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write([]string{
			strconv.Itoa(r.Generation),
			formatFloat(r.BestFitness),
			formatFloat(r.MeanFitness),
			formatFloat(r.WorstFitness),
			strconv.Itoa(r.StaleFor),
			strconv.Itoa(r.Renders),
			strconv.Itoa(r.RenderErrors),
			strconv.Itoa(r.CacheHits),
			formatFloat(r.GenerateMillis),
			formatFloat(r.RenderMillis),
			formatFloat(r.AnalyseMillis),
			formatFloat(r.ElapsedMillis),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadGenerationsCSV parses a file written by WriteGenerationsCSV.
func ReadGenerationsCSV(path string) ([]model.GenerationRecord, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationRecord{}, true, nil
		}
		return nil, false, err
	}
	if strings.Join(header, ",") != strings.Join(generationsHeader, ",") {
		return nil, false, fmt.Errorf("unexpected generations header: %v", header)
	}

	records := make([]model.GenerationRecord, 0, 128)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		record, err := parseGenerationRow(row)
		if err != nil {
			return nil, false, err
		}
		records = append(records, record)
	}
	return records, true, nil
}

func parseGenerationRow(row []string) (model.GenerationRecord, error) {
	ints := make([]int, 0, 5)
	for _, idx := range []int{0, 4, 5, 6, 7} {
		v, err := strconv.Atoi(row[idx])
		if err != nil {
			return model.GenerationRecord{}, fmt.Errorf("parse %s: %w", generationsHeader[idx], err)
		}
		ints = append(ints, v)
	}
	floats := make([]float64, 0, 7)
	for _, idx := range []int{1, 2, 3, 8, 9, 10, 11} {
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			return model.GenerationRecord{}, fmt.Errorf("parse %s: %w", generationsHeader[idx], err)
		}
		floats = append(floats, v)
	}
	return model.GenerationRecord{
		Generation:     ints[0],
		BestFitness:    floats[0],
		MeanFitness:    floats[1],
		WorstFitness:   floats[2],
		StaleFor:       ints[1],
		Renders:        ints[2],
		RenderErrors:   ints[3],
		CacheHits:      ints[4],
		GenerateMillis: floats[3],
		RenderMillis:   floats[4],
		AnalyseMillis:  floats[5],
		ElapsedMillis:  floats[6],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
