package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"reflector/internal/render/rendertest"
	"reflector/internal/stats"
)

func setupWorkdir(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})

	rendererOverride = &rendertest.Solid{Color: color.Black}
	t.Cleanup(func() {
		rendererOverride = nil
	})

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := rendertest.WritePNG(filepath.Join(workdir, "ref.png"), img); err != nil {
		t.Fatalf("write reference: %v", err)
	}
	return workdir
}

func smallRunArgs(extra ...string) []string {
	args := []string{
		"run",
		"--store", "sqlite",
		"--db-path", "reflector.db",
		"--out", "gendir",
		"--scratch-dir", "scratch",
		"--width", "8",
		"--height", "8",
		"--objects", "2",
		"--pop", "6",
		"--children", "4",
		"--immigrants", "1",
		"--seed", "11",
		"--workers", "2",
		"--accept", "-1",
		"--max-gens", "2",
		"--previews=false",
	}
	return append(args, extra...)
}

func TestRunCommandCreatesArtifactsAndQueries(t *testing.T) {
	setupWorkdir(t)

	out, err := captureStdout(func() error {
		return run(context.Background(), smallRunArgs("ref.png"))
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if strings.Count(out, "generation=") < 3 {
		t.Fatalf("expected a progress line per generation, got:\n%s", out)
	}
	if !strings.Contains(out, "finished run_id=") || !strings.Contains(out, "state=EXHAUSTED generation=2") {
		t.Fatalf("unexpected final line:\n%s", out)
	}
	if !strings.Contains(out, "sphere {") {
		t.Fatalf("expected best scene in output:\n%s", out)
	}
	if _, err := os.Stat("reflector.db"); err != nil {
		t.Fatalf("expected sqlite db: %v", err)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %d", len(entries))
	}
	runID := entries[0].RunID

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"runs"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "state=EXHAUSTED") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"best", "--latest", "--db-path", "reflector.db"})
	})
	if err != nil {
		t.Fatalf("best command: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "sphere {") {
		t.Fatalf("unexpected best output:\n%s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"history", "--run-id", runID, "--limit", "1", "--db-path", "reflector.db"})
	})
	if err != nil {
		t.Fatalf("history command: %v", err)
	}
	if strings.Count(out, "\n") != 1 || !strings.HasPrefix(out, "generation=2 ") {
		t.Fatalf("unexpected history output:\n%s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"export", "--latest"})
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(out, "exported run_id="+runID) {
		t.Fatalf("unexpected export output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(exportsDir, runID, stats.BestSceneFile)); err != nil {
		t.Fatalf("expected exported best scene: %v", err)
	}
}

func TestRunCommandConfigAllowsFlagOverrides(t *testing.T) {
	workdir := setupWorkdir(t)
	configPath := filepath.Join(workdir, "run.yaml")
	config := `reference: ref.png
objects: 3
population: 8
max_generations: 5
reduction: rms
mutation:
  position: 0.5
`
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := captureStdout(func() error {
		return run(context.Background(), smallRunArgs("--config", configPath, "--single"))
	}); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list run index: entries=%d err=%v", len(entries), err)
	}
	cfg, ok, err := stats.ReadRunConfig(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	// --pop and --max-gens were given explicitly; --single beats objects.
	if cfg.PopulationSize != 6 || cfg.MaxGenerations != 2 || cfg.Objects != 1 {
		t.Fatalf("expected flag overrides, got %+v", cfg)
	}
	if cfg.Reduction != "rms" {
		t.Fatalf("expected reduction from config, got=%s", cfg.Reduction)
	}
}

func TestRunCommandValidation(t *testing.T) {
	setupWorkdir(t)
	cases := map[string][]string{
		"no command":      nil,
		"unknown command": {"frobnicate"},
		"no reference":    smallRunArgs(),
		"two references":  smallRunArgs("a.png", "b.png"),
		"ref twice":       smallRunArgs("--ref", "ref.png", "ref.png"),
		"bad reduction":   smallRunArgs("--reduction", "median", "ref.png"),
		"missing config":  smallRunArgs("--config", "missing.yaml", "ref.png"),
		"bad runs limit":  {"runs", "--limit", "0"},
		"best no target":  {"best", "--db-path", "reflector.db"},
	}
	for name, args := range cases {
		if _, err := captureStdout(func() error { return run(context.Background(), args) }); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestHelpIsNotAnError(t *testing.T) {
	setupWorkdir(t)
	err := run(context.Background(), []string{"run", "-h"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected pflag.ErrHelp, got=%v", err)
	}
}

func TestRunsCommandEmptyIndex(t *testing.T) {
	setupWorkdir(t)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if strings.TrimSpace(out) != "no runs found" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout
	out := <-done
	_ = r.Close()
	return out, runErr
}
