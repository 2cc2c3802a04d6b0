package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"reflector/pkg/reflector"
)

func TestLoadRunRequestFromConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	config := `reference: photo.jpg
output_dir: out
width: 32
height: 24
objects: 5
population: 12
child_count: 6
child_cull: 0
mutant_fraction: 0.5
new_organisms: 0
incest_threshold: 2
mutation:
  position: 0.3
  radius: 0.2
  color: 0.1
  amount: 0
world:
  width: 10
  height: 12
  depth: 14
crossover: blend
selection: tournament
reduction: abs_sum
radius_penalty: 0
acceptance_threshold: 2.5
min_generations: 10
stagnation_window: 0
max_generations: 50
seed: 99
renderer: /opt/povray/bin/povray
render_args: ["+A", "-J"]
previews: false
fitness_cache: false
`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := reflector.DefaultRunRequest()
	want.ReferencePath = "photo.jpg"
	want.OutputDir = "out"
	want.Width = 32
	want.Height = 24
	want.Objects = 5
	want.Population = 12
	want.ChildCount = 6
	want.ChildCull = 0
	want.MutantFraction = 0.5
	want.NewOrganisms = 0
	want.IncestThreshold = 2
	want.PositionRate = 0.3
	want.RadiusRate = 0.2
	want.ColorRate = 0.1
	want.MutationAmount = 0
	want.WorldWidth = 10
	want.WorldHeight = 12
	want.WorldDepth = 14
	want.CrossoverPolicy = "blend"
	want.Selection = "tournament"
	want.Reduction = "abs_sum"
	want.RadiusPenalty = 0
	want.AcceptanceThreshold = 2.5
	want.MinGenerations = 10
	want.StagnationWindow = 0
	want.MaxGenerations = 50
	want.Seed = 99
	want.RendererBinary = "/opt/povray/bin/povray"
	want.RenderArgs = []string{"+A", "-J"}
	want.Previews = false
	want.FitnessCache = false

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRunRequestFromConfigJSONSingle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(`{"objects": 9, "single": true}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	got, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Objects != 1 {
		t.Fatalf("expected single to force one object, got=%d", got.Objects)
	}
}

func TestLoadRunRequestFromConfigAcceptsWholeFloats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(`{"population": 12.0, "seed": 4e3}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	got, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Population != 12 || got.Seed != 4000 {
		t.Fatalf("unexpected whole numbers: population=%d seed=%d", got.Population, got.Seed)
	}
}

func TestLoadRunRequestFromConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	bad := map[string]string{
		"not a map":        "- a\n- b\n",
		"bad render args":  "render_args: [1, 2]\n",
		"render args text": "render_args: \"+A\"\n",
		"fractional pop":   "population: 2.5\n",
		"fractional seed":  "seed: 1.5\n",
		"fractional gens":  "max_generations: 0.1\n",
	}
	for name, content := range bad {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := loadRunRequestFromConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
