// Package metrics exposes search counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

const namespace = "reflector"

// Metrics holds the collectors for one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Evaluations     *prometheus.CounterVec
	EvalDuration    *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	Generation      prometheus.Gauge
	BestFitness     prometheus.Gauge
	PreviewsDropped prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Fitness evaluations by outcome.",
		}, []string{"outcome"}),
		EvalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_phase_seconds",
			Help:      "Time spent per evaluation phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fitness_cache_hits_total",
			Help:      "Evaluations answered from the fitness memo.",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Index of the last completed generation.",
		}),
		BestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness in the current population.",
		}),
		PreviewsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_dropped_total",
			Help:      "Snapshot previews skipped because the preview queue was full.",
		}),
	}
	m.registry.MustRegister(m.Evaluations, m.EvalDuration, m.CacheHits, m.Generation, m.BestFitness, m.PreviewsDropped)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveEvaluation(outcome string, generate, render, analyse time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvalDuration.WithLabelValues("generate").Observe(generate.Seconds())
	m.EvalDuration.WithLabelValues("render").Observe(render.Seconds())
	m.EvalDuration.WithLabelValues("analyse").Observe(analyse.Seconds())
}

func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) ObserveGeneration(generation int, best float64) {
	if m == nil {
		return
	}
	m.Generation.Set(float64(generation))
	m.BestFitness.Set(best)
}

func (m *Metrics) ObservePreviewDropped() {
	if m == nil {
		return
	}
	m.PreviewsDropped.Inc()
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if m == nil {
		return errors.New("metrics are disabled")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("metrics server: %v", err)
		}
	}()
	klog.V(1).Infof("serving metrics on %s", ln.Addr())
	return nil
}
