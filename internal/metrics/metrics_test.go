package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvaluationCountsOutcomes(t *testing.T) {
	m := New()
	m.ObserveEvaluation("ok", time.Millisecond, 2*time.Millisecond, time.Millisecond)
	m.ObserveEvaluation("ok", time.Millisecond, 2*time.Millisecond, time.Millisecond)
	m.ObserveEvaluation("render_error", 0, time.Millisecond, 0)
	m.ObserveCacheHit()
	m.ObserveGeneration(3, 12.5)

	if got := testutil.ToFloat64(m.Evaluations.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok evaluations, got=%f", got)
	}
	if got := testutil.ToFloat64(m.Evaluations.WithLabelValues("render_error")); got != 1 {
		t.Fatalf("expected 1 failed evaluation, got=%f", got)
	}
	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Fatalf("expected 1 cache hit, got=%f", got)
	}
	if got := testutil.ToFloat64(m.BestFitness); got != 12.5 {
		t.Fatalf("expected best fitness gauge 12.5, got=%f", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvaluation("ok", 0, 0, 0)
	m.ObserveCacheHit()
	m.ObserveGeneration(1, 1)
	m.ObservePreviewDropped()
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}
