package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"reflector/internal/evo"
	"reflector/internal/metrics"
	"reflector/internal/render"
	"reflector/internal/storage"
	"reflector/pkg/reflector"
)

const (
	runsDir       = "runs"
	exportsDir    = "exports"
	defaultDBPath = "reflector.db"
)

// rendererOverride replaces the POV-Ray subprocess in tests.
var rendererOverride render.Renderer

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	klog.Flush()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "-h", "--help", "help":
		fmt.Fprintln(os.Stderr, usage())
		return pflag.ErrHelp
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// newFlagSet returns a subcommand flag set carrying klog's flags. A bare -v
// selects verbosity 2; use -v=N for other levels.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	goFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	klog.InitFlags(goFlags)
	fs.AddGoFlagSet(goFlags)
	if v := fs.Lookup("v"); v != nil {
		v.NoOptDefVal = "2"
	}
	return fs
}

func storeFlags(fs *pflag.FlagSet) (*string, *string) {
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	return storeKind, dbPath
}

func newClient(storeKind, dbPath string, m *metrics.Metrics) (*reflector.Client, error) {
	return reflector.New(reflector.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Renderer:   rendererOverride,
		Metrics:    m,
	})
}

func bindRunFlags(fs *pflag.FlagSet, req *reflector.RunRequest) {
	fs.StringVar(&req.ReferencePath, "ref", req.ReferencePath, "reference image (png, jpeg or gif); may also be given as the first argument")
	fs.StringVar(&req.OutputDir, "out", req.OutputDir, "directory for per-generation snapshots")
	fs.IntVar(&req.Width, "width", req.Width, "render width in pixels")
	fs.IntVar(&req.Height, "height", req.Height, "render height in pixels")
	fs.IntVar(&req.Objects, "objects", req.Objects, "number of spheres in the scene")
	fs.IntVar(&req.Population, "pop", req.Population, "population size")
	fs.IntVar(&req.ChildCount, "children", req.ChildCount, "children bred per generation")
	fs.IntVar(&req.ChildCull, "cull", req.ChildCull, "worst children dropped per generation")
	fs.Float64Var(&req.MutantFraction, "mutants", req.MutantFraction, "fraction of children mutated")
	fs.IntVar(&req.NewOrganisms, "immigrants", req.NewOrganisms, "random organisms added per generation")
	fs.IntVar(&req.IncestThreshold, "incest", req.IncestThreshold, "minimum rank distance between parents")
	fs.Float64Var(&req.PositionRate, "position-rate", req.PositionRate, "position gene mutation probability")
	fs.Float64Var(&req.RadiusRate, "radius-rate", req.RadiusRate, "radius gene mutation probability")
	fs.Float64Var(&req.ColorRate, "color-rate", req.ColorRate, "color gene mutation probability")
	fs.Float64Var(&req.MutationAmount, "mutation-amount", req.MutationAmount, "maximum mutation step as a fraction of the gene range (0 resamples)")
	fs.Float64Var(&req.MinRadius, "min-radius", req.MinRadius, "minimum sphere radius")
	fs.Float64Var(&req.MaxRadius, "max-radius", req.MaxRadius, "maximum sphere radius")
	fs.StringVar(&req.CrossoverPolicy, "crossover", req.CrossoverPolicy, "crossover policy: mendel|blend")
	fs.StringVar(&req.Selection, "selection", req.Selection, "parent selection: rank|tournament")
	fs.StringVar(&req.Reduction, "reduction", req.Reduction, "image difference reduction: cubed_rms|rms|abs_sum")
	fs.Float64Var(&req.RadiusPenalty, "radius-penalty", req.RadiusPenalty, "fitness penalty per unit of total radius")
	fs.Float64Var(&req.FailurePenalty, "failure-penalty", req.FailurePenalty, "fitness assigned to scenes that fail to render")
	fs.Float64Var(&req.AcceptanceThreshold, "accept", req.AcceptanceThreshold, "stop once the best fitness is at or below this value")
	fs.IntVar(&req.MinGenerations, "min-gens", req.MinGenerations, "generations before stagnation can stop the run")
	fs.IntVar(&req.StagnationWindow, "stagnation", req.StagnationWindow, "generations without improvement that count as stagnant (0 disables)")
	fs.IntVar(&req.MaxGenerations, "max-gens", req.MaxGenerations, "generation budget")
	fs.IntVar(&req.Workers, "workers", req.Workers, "concurrent renders")
	fs.Int64Var(&req.Seed, "seed", req.Seed, "rng seed (0 picks one from the clock)")
	fs.StringVar(&req.RendererBinary, "renderer", req.RendererBinary, "POV-Ray compatible binary")
	fs.StringSliceVar(&req.RenderArgs, "render-arg", req.RenderArgs, "extra renderer argument (repeatable)")
	fs.BoolVar(&req.Previews, "previews", req.Previews, "render a preview of each generation's best scene")
	fs.IntVar(&req.PreviewWorkers, "preview-workers", req.PreviewWorkers, "concurrent preview renders")
	fs.BoolVar(&req.FitnessCache, "fitness-cache", req.FitnessCache, "reuse the fitness of identical scenes")
	fs.StringVar(&req.ScratchDir, "scratch-dir", req.ScratchDir, "directory for temporary scene and raster files")
}

func runRun(ctx context.Context, args []string) error {
	fs := newFlagSet("run")
	configPath := fs.String("config", "", "optional run config file (YAML or JSON)")
	single := fs.Bool("single", false, "search for a single sphere")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	storeKind, dbPath := storeFlags(fs)
	flagged := reflector.DefaultRunRequest()
	bindRunFlags(fs, &flagged)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := flagged
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = loaded
		overrideFromFlags(&req, flagged, fs)
	}
	if fs.NArg() > 1 {
		return usageError("run takes at most one reference image argument")
	}
	if fs.NArg() == 1 {
		if fs.Changed("ref") {
			return errors.New("use either --ref or a reference argument, not both")
		}
		req.ReferencePath = fs.Arg(0)
	}
	if req.ReferencePath == "" {
		return usageError("run requires a reference image")
	}
	if *single {
		req.Objects = 1
	}

	var m *metrics.Metrics
	if *metricsAddr != "" {
		m = metrics.New()
		if err := m.Serve(ctx, *metricsAddr); err != nil {
			return fmt.Errorf("serve metrics: %w", err)
		}
	}

	client, err := newClient(*storeKind, *dbPath, m)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.Progress = printProgress
	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("finished run_id=%s state=%s generation=%d best_fitness=%f renders=%s render_errors=%d cache_hits=%d seed=%d elapsed=%s output_dir=%s artifacts=%s\n",
		summary.RunID,
		summary.State,
		summary.Generation,
		summary.BestFitness,
		humanize.Comma(int64(summary.Totals.Renders)),
		summary.Totals.RenderErrors,
		summary.Totals.CacheHits,
		summary.Seed,
		summary.Elapsed.Round(time.Millisecond),
		filepath.Clean(summary.OutputDir),
		filepath.Clean(summary.ArtifactsDir),
	)
	if summary.BestScene != "" {
		fmt.Print(summary.BestScene)
	}
	return nil
}

func printProgress(p evo.Progress) {
	fmt.Printf("generation=%d state=%s best_fitness=%f mean_fitness=%f improved=%t stale_for=%d renders=%d render_errors=%d cache_hits=%d generate_ms=%.1f render_ms=%.1f analyse_ms=%.1f elapsed=%s\n",
		p.Generation,
		p.State,
		p.Best,
		p.Mean,
		p.Improved,
		p.StaleFor,
		p.Stats.Renders,
		p.Stats.RenderErrors,
		p.Stats.CacheHits,
		float64(p.Stats.Generate)/float64(time.Millisecond),
		float64(p.Stats.Render)/float64(time.Millisecond),
		float64(p.Stats.Analyse)/float64(time.Millisecond),
		p.Elapsed.Round(time.Millisecond),
	)
}

func runRuns(ctx context.Context, args []string) error {
	fs := newFlagSet("runs")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient("memory", "", nil)
	if err != nil {
		return err
	}
	items, err := client.Runs(ctx, reflector.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, item := range items {
		created := item.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339, item.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("run_id=%s created=%q state=%s reference=%s objects=%d pop=%d seed=%d reduction=%s generations=%d renders=%s final_best_fitness=%f\n",
			item.RunID,
			created,
			item.State,
			item.ReferencePath,
			item.Objects,
			item.Population,
			item.Seed,
			item.Reduction,
			item.Generations,
			humanize.Comma(int64(item.TotalRenders)),
			item.FinalBestFitness,
		)
	}
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := newFlagSet("best")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit the best organism record as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Best(ctx, reflector.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}
	fmt.Printf("run_id=%s generation=%d organism=%s best_fitness=%f\n", record.RunID, record.Generation, record.Organism.ID, record.Organism.Fitness)
	fmt.Print(record.Scene)
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := newFlagSet("history")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	limit := fs.Int("limit", 0, "show only the last N generations (0 shows all)")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("limit must be >= 0")
	}

	client, err := newClient(*storeKind, *dbPath, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, reflector.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, rec := range history {
		fmt.Printf("generation=%d best_fitness=%f mean_fitness=%f worst_fitness=%f stale_for=%d renders=%d render_errors=%d cache_hits=%d render_ms=%.1f elapsed_ms=%.1f\n",
			rec.Generation,
			rec.BestFitness,
			rec.MeanFitness,
			rec.WorstFitness,
			rec.StaleFor,
			rec.Renders,
			rec.RenderErrors,
			rec.CacheHits,
			rec.RenderMillis,
			rec.ElapsedMillis,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient("memory", "", nil)
	if err != nil {
		return err
	}
	exported, err := client.Export(ctx, reflector.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, filepath.Clean(exported.Directory))
	return nil
}

func usage() string {
	return "usage: reflectorctl <run|runs|best|history|export> [flags]"
}

func usageError(msg string) error {
	return fmt.Errorf("%s\n%s", msg, usage())
}
