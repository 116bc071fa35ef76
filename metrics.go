package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors of one benchmark process. They are
// registered on a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	TrialThroughput *prometheus.HistogramVec
	TrialDuration   *prometheus.HistogramVec
	TrialFailures   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Regime          prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TrialThroughput: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgemm_trial_gflops",
				Help:    "Throughput of each timed SGEMM trial in GFLOP/s.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 18),
			},
			[]string{"regime"},
		),
		TrialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgemm_trial_duration_seconds",
				Help:    "Device time of each timed SGEMM trial.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
			},
			[]string{"regime"},
		),
		TrialFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgemm_trial_failures_total",
				Help: "Trials whose result exceeded the L2 relative-error tolerance.",
			},
			[]string{"regime"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgemm_power_transitions_total",
				Help: "Power regime transitions by target and outcome (ok, partial, failed).",
			},
			[]string{"target", "outcome"},
		),
		Regime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sgemm_power_regime",
			Help: "Regime the controller last reached: 0 unknown, 1 normal, 2 constrained.",
		}),
	}
	m.Registry.MustRegister(m.TrialThroughput, m.TrialDuration, m.TrialFailures, m.Transitions, m.Regime)
	return m
}

// ObserveTrial records one timed trial. A nil *Metrics records nothing.
func (m *Metrics) ObserveTrial(regime PowerState, elapsed time.Duration, flops float64, passed bool) {
	if m == nil {
		return
	}
	label := regime.String()
	m.TrialThroughput.WithLabelValues(label).Observe(gflops(flops, elapsed))
	m.TrialDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	if !passed {
		m.TrialFailures.WithLabelValues(label).Inc()
	}
}

// ObserveTransition records the outcome of a power transition.
func (m *Metrics) ObserveTransition(target, reached PowerState, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrPartialTransition):
		outcome = "partial"
	case err != nil:
		outcome = "failed"
	}
	m.Transitions.WithLabelValues(target.String(), outcome).Inc()
	m.Regime.Set(float64(reached))
}

// Serve exposes the registry on addr under /metrics until the returned
// stop function is called.
func (m *Metrics) Serve(addr string) (stop func() error, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
