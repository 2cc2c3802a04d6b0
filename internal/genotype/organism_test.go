package genotype

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLayoutSpecsNamingScheme(t *testing.T) {
	layout := DefaultLayout(2)
	got := layout.Names()
	want := []string{
		"cb_0", "cb_1", "cg_0", "cg_1", "cr_0", "cr_1",
		"r_0", "r_1", "x_0", "x_1", "y_0", "y_1", "z_0", "z_1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected gene names (-want +got):\n%s", diff)
	}
	if err := layout.Validate(); err != nil {
		t.Fatalf("default layout invalid: %v", err)
	}
}

func TestLayoutValidateRejectsBadValues(t *testing.T) {
	bad := DefaultLayout(0)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected zero objects to be rejected")
	}
	bad = DefaultLayout(1)
	bad.Rates.Color = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected out of range rate to be rejected")
	}
}

func TestInitializeRandomWithinBoundsAndDeterministic(t *testing.T) {
	layout := DefaultLayout(5)
	a := NewRandomOrganism(layout, "a", rand.New(rand.NewSource(9)))
	b := NewRandomOrganism(layout, "b", rand.New(rand.NewSource(9)))
	for name, g := range a.Genes {
		if g.Value < g.Min || g.Value > g.Max {
			t.Fatalf("gene %s out of bounds: %+v", name, g)
		}
		if b.Genes[name].Value != g.Value {
			t.Fatalf("expected same seed to produce same gene %s", name)
		}
	}
}

func TestCrossoverPreservesNameSetAndParents(t *testing.T) {
	layout := DefaultLayout(3)
	rng := rand.New(rand.NewSource(2))
	a := NewRandomOrganism(layout, "a", rng)
	b := NewRandomOrganism(layout, "b", rng)
	aBefore := Clone(a, a.ID)

	child, err := Crossover(a, b, "c", rng, CrossoverMendel)
	if err != nil {
		t.Fatalf("crossover: %v", err)
	}
	if diff := cmp.Diff(GeneNames(a), GeneNames(child)); diff != "" {
		t.Fatalf("child gene names differ (-parent +child):\n%s", diff)
	}
	if !SameGeneNames(child, b) {
		t.Fatal("expected child name set to match second parent")
	}
	if diff := cmp.Diff([]string{"a", "b"}, child.Parents); diff != "" {
		t.Fatalf("unexpected parents:\n%s", diff)
	}

	Mutate(&child, rand.New(rand.NewSource(4)))
	if diff := cmp.Diff(aBefore.Genes, a.Genes); diff != "" {
		t.Fatalf("mutating child changed parent genes:\n%s", diff)
	}
}

func TestCrossoverRejectsMismatchedGenomes(t *testing.T) {
	a := NewRandomOrganism(DefaultLayout(2), "a", rand.New(rand.NewSource(1)))
	b := NewRandomOrganism(DefaultLayout(3), "b", rand.New(rand.NewSource(1)))
	_, err := Crossover(a, b, "c", nil, CrossoverMendel)
	if !errors.Is(err, ErrGenomeMismatch) {
		t.Fatalf("expected ErrGenomeMismatch, got=%v", err)
	}
}

func TestCloneDoesNotAliasGenes(t *testing.T) {
	org := NewRandomOrganism(DefaultLayout(1), "a", rand.New(rand.NewSource(1)))
	clone := Clone(org, "b")
	g := clone.Genes["x_0"]
	g.Value = -42
	clone.Genes["x_0"] = g
	if org.Genes["x_0"].Value == -42 {
		t.Fatal("clone aliases source genes")
	}
}

func TestSceneDocumentIsPure(t *testing.T) {
	layout := DefaultLayout(4)
	org := NewRandomOrganism(layout, "a", rand.New(rand.NewSource(12)))
	first := SceneDocument(layout, org)
	second := SceneDocument(layout, org)
	if first != second {
		t.Fatal("expected identical scene documents for an unmutated organism")
	}
	if got := strings.Count(first, "sphere {"); got != 4 {
		t.Fatalf("expected 4 spheres, got=%d", got)
	}
	if !strings.HasPrefix(first, "#include \"colors.inc\"\n") {
		t.Fatalf("unexpected preamble: %q", first[:40])
	}
}

func TestSceneCarriesGeneValues(t *testing.T) {
	layout := DefaultLayout(1)
	org := NewOrganism(layout, "a")
	set := func(name string, v float64) {
		g := org.Genes[name]
		g.Value = v
		org.Genes[name] = g
	}
	set("x_0", 1.5)
	set("y_0", 2)
	set("z_0", 3.25)
	set("r_0", 0.75)
	set("cr_0", 0.1)
	set("cg_0", 0.2)
	set("cb_0", 0.3)

	spheres := Scene(layout, org).Spheres()
	if len(spheres) != 1 {
		t.Fatalf("expected one sphere, got=%d", len(spheres))
	}
	s := spheres[0]
	if s.Center.X != 1.5 || s.Center.Y != 2 || s.Center.Z != 3.25 || s.Radius != 0.75 {
		t.Fatalf("unexpected sphere geometry: %+v", s)
	}
	if s.Color.R != 0.1 || s.Color.G != 0.2 || s.Color.B != 0.3 {
		t.Fatalf("unexpected sphere color: %+v", s.Color)
	}
	if got := TotalRadius(layout, org); got != 0.75 {
		t.Fatalf("expected total radius 0.75, got=%f", got)
	}
}
