package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Gene is one bounded scalar scene parameter.
type Gene struct {
	Value               float64 `json:"value"`
	Min                 float64 `json:"min"`
	Max                 float64 `json:"max"`
	MutationProbability float64 `json:"mutation_probability"`
	MutationAmount      float64 `json:"mutation_amount"`
}

// Organism is one candidate scene. Genes are held by value so copies of an
// organism never alias each other's parameters.
type Organism struct {
	ID         string          `json:"id"`
	Genes      map[string]Gene `json:"genes"`
	Fitness    float64         `json:"fitness"`
	Evaluated  bool            `json:"evaluated"`
	Seq        uint64          `json:"seq"`
	Generation int             `json:"generation"`
	Parents    []string        `json:"parents,omitempty"`
}

type RunRecord struct {
	VersionedRecord
	ID                string  `json:"id"`
	CreatedAtUTC      string  `json:"created_at_utc"`
	ReferencePath     string  `json:"reference_path"`
	OutputDir         string  `json:"output_dir"`
	Objects           int     `json:"objects"`
	PopulationSize    int     `json:"population_size"`
	Seed              int64   `json:"seed"`
	Reduction         string  `json:"reduction"`
	State             string  `json:"state"`
	Generations       int     `json:"generations"`
	FinalBestFitness  float64 `json:"final_best_fitness"`
	TotalRenders      int     `json:"total_renders"`
	TotalRenderErrors int     `json:"total_render_errors"`
}

type GenerationRecord struct {
	VersionedRecord
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	MeanFitness    float64 `json:"mean_fitness"`
	WorstFitness   float64 `json:"worst_fitness"`
	StaleFor       int     `json:"stale_for"`
	Renders        int     `json:"renders"`
	RenderErrors   int     `json:"render_errors"`
	CacheHits      int     `json:"cache_hits"`
	GenerateMillis float64 `json:"generate_ms"`
	RenderMillis   float64 `json:"render_ms"`
	AnalyseMillis  float64 `json:"analyse_ms"`
	ElapsedMillis  float64 `json:"elapsed_ms"`
}

type BestOrganismRecord struct {
	VersionedRecord
	RunID      string   `json:"run_id"`
	Generation int      `json:"generation"`
	Organism   Organism `json:"organism"`
	Scene      string   `json:"scene"`
}
