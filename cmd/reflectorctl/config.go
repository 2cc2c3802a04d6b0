package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"reflector/pkg/reflector"
)

// loadRunRequestFromConfig overlays a YAML or JSON run file on the default
// request. Keys are the snake_case names of the run flags.
func loadRunRequestFromConfig(path string) (reflector.RunRequest, error) {
	req := reflector.DefaultRunRequest()
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyRunConfig(raw, &req); err != nil {
		return req, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

func applyRunConfig(raw map[string]any, req *reflector.RunRequest) error {
	if v, ok := asString(raw["reference"]); ok {
		req.ReferencePath = v
	}
	if v, ok := asString(raw["output_dir"]); ok {
		req.OutputDir = v
	}
	if v, ok, err := asInt("width", raw["width"]); err != nil {
		return err
	} else if ok {
		req.Width = v
	}
	if v, ok, err := asInt("height", raw["height"]); err != nil {
		return err
	} else if ok {
		req.Height = v
	}
	if v, ok, err := asInt("objects", raw["objects"]); err != nil {
		return err
	} else if ok {
		req.Objects = v
	}
	if v, ok := asBool(raw["single"]); ok && v {
		req.Objects = 1
	}

	if v, ok, err := asInt("population", raw["population"]); err != nil {
		return err
	} else if ok {
		req.Population = v
	}
	if v, ok, err := asInt("child_count", raw["child_count"]); err != nil {
		return err
	} else if ok {
		req.ChildCount = v
	}
	if v, ok, err := asInt("child_cull", raw["child_cull"]); err != nil {
		return err
	} else if ok {
		req.ChildCull = v
	}
	if v, ok := asFloat64(raw["mutant_fraction"]); ok {
		req.MutantFraction = v
	}
	if v, ok, err := asInt("new_organisms", raw["new_organisms"]); err != nil {
		return err
	} else if ok {
		req.NewOrganisms = v
	}
	if v, ok, err := asInt("incest_threshold", raw["incest_threshold"]); err != nil {
		return err
	} else if ok {
		req.IncestThreshold = v
	}

	if rates, ok := raw["mutation"].(map[string]any); ok {
		if v, ok := asFloat64(rates["position"]); ok {
			req.PositionRate = v
		}
		if v, ok := asFloat64(rates["radius"]); ok {
			req.RadiusRate = v
		}
		if v, ok := asFloat64(rates["color"]); ok {
			req.ColorRate = v
		}
		if v, ok := asFloat64(rates["amount"]); ok {
			req.MutationAmount = v
		}
	}
	if v, ok := asFloat64(raw["min_radius"]); ok {
		req.MinRadius = v
	}
	if v, ok := asFloat64(raw["max_radius"]); ok {
		req.MaxRadius = v
	}
	if world, ok := raw["world"].(map[string]any); ok {
		if v, ok := asFloat64(world["width"]); ok {
			req.WorldWidth = v
		}
		if v, ok := asFloat64(world["height"]); ok {
			req.WorldHeight = v
		}
		if v, ok := asFloat64(world["depth"]); ok {
			req.WorldDepth = v
		}
	}

	if v, ok := asString(raw["crossover"]); ok {
		req.CrossoverPolicy = v
	}
	if v, ok := asString(raw["selection"]); ok {
		req.Selection = v
	}
	if v, ok := asString(raw["reduction"]); ok {
		req.Reduction = v
	}
	if v, ok := asFloat64(raw["radius_penalty"]); ok {
		req.RadiusPenalty = v
	}
	if v, ok := asFloat64(raw["failure_penalty"]); ok {
		req.FailurePenalty = v
	}

	if v, ok := asFloat64(raw["acceptance_threshold"]); ok {
		req.AcceptanceThreshold = v
	}
	if v, ok, err := asInt("min_generations", raw["min_generations"]); err != nil {
		return err
	} else if ok {
		req.MinGenerations = v
	}
	if v, ok, err := asInt("stagnation_window", raw["stagnation_window"]); err != nil {
		return err
	} else if ok {
		req.StagnationWindow = v
	}
	if v, ok, err := asInt("max_generations", raw["max_generations"]); err != nil {
		return err
	} else if ok {
		req.MaxGenerations = v
	}

	if v, ok, err := asInt("workers", raw["workers"]); err != nil {
		return err
	} else if ok {
		req.Workers = v
	}
	if v, ok, err := asInt64("seed", raw["seed"]); err != nil {
		return err
	} else if ok {
		req.Seed = v
	}
	if v, ok := asString(raw["renderer"]); ok {
		req.RendererBinary = v
	}
	if v, ok := asStringSlice(raw["render_args"]); ok {
		req.RenderArgs = v
	} else if raw["render_args"] != nil {
		return fmt.Errorf("render_args must be a list of strings")
	}
	if v, ok := asBool(raw["previews"]); ok {
		req.Previews = v
	}
	if v, ok, err := asInt("preview_workers", raw["preview_workers"]); err != nil {
		return err
	} else if ok {
		req.PreviewWorkers = v
	}
	if v, ok := asBool(raw["fitness_cache"]); ok {
		req.FitnessCache = v
	}
	if v, ok := asString(raw["scratch_dir"]); ok {
		req.ScratchDir = v
	}
	return nil
}

// overrideFromFlags copies every explicitly set flag from flagged into req.
func overrideFromFlags(req *reflector.RunRequest, flagged reflector.RunRequest, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "ref":
			req.ReferencePath = flagged.ReferencePath
		case "out":
			req.OutputDir = flagged.OutputDir
		case "width":
			req.Width = flagged.Width
		case "height":
			req.Height = flagged.Height
		case "objects":
			req.Objects = flagged.Objects
		case "pop":
			req.Population = flagged.Population
		case "children":
			req.ChildCount = flagged.ChildCount
		case "cull":
			req.ChildCull = flagged.ChildCull
		case "mutants":
			req.MutantFraction = flagged.MutantFraction
		case "immigrants":
			req.NewOrganisms = flagged.NewOrganisms
		case "incest":
			req.IncestThreshold = flagged.IncestThreshold
		case "position-rate":
			req.PositionRate = flagged.PositionRate
		case "radius-rate":
			req.RadiusRate = flagged.RadiusRate
		case "color-rate":
			req.ColorRate = flagged.ColorRate
		case "mutation-amount":
			req.MutationAmount = flagged.MutationAmount
		case "min-radius":
			req.MinRadius = flagged.MinRadius
		case "max-radius":
			req.MaxRadius = flagged.MaxRadius
		case "crossover":
			req.CrossoverPolicy = flagged.CrossoverPolicy
		case "selection":
			req.Selection = flagged.Selection
		case "reduction":
			req.Reduction = flagged.Reduction
		case "radius-penalty":
			req.RadiusPenalty = flagged.RadiusPenalty
		case "failure-penalty":
			req.FailurePenalty = flagged.FailurePenalty
		case "accept":
			req.AcceptanceThreshold = flagged.AcceptanceThreshold
		case "min-gens":
			req.MinGenerations = flagged.MinGenerations
		case "stagnation":
			req.StagnationWindow = flagged.StagnationWindow
		case "max-gens":
			req.MaxGenerations = flagged.MaxGenerations
		case "workers":
			req.Workers = flagged.Workers
		case "seed":
			req.Seed = flagged.Seed
		case "renderer":
			req.RendererBinary = flagged.RendererBinary
		case "render-arg":
			req.RenderArgs = flagged.RenderArgs
		case "previews":
			req.Previews = flagged.Previews
		case "preview-workers":
			req.PreviewWorkers = flagged.PreviewWorkers
		case "fitness-cache":
			req.FitnessCache = flagged.FitnessCache
		case "scratch-dir":
			req.ScratchDir = flagged.ScratchDir
		}
	})
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asInt reports ok=false for missing or non-numeric values and an error for
// numbers that are not whole.
func asInt(key string, v any) (int, bool, error) {
	n, ok, err := asInt64(key, v)
	return int(n), ok, err
}

func asInt64(key string, v any) (int64, bool, error) {
	switch x := v.(type) {
	case int64:
		return x, true, nil
	case int:
		return int64(x), true, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false, fmt.Errorf("%s must be a whole number, got %v", key, x)
		}
		return int64(x), true, nil
	default:
		return 0, false, nil
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
