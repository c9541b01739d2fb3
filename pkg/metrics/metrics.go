// Package metrics exposes pti's runtime counters over HTTP for
// Prometheus to scrape.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctspti/pti/pkg/deqprunner"
)

// Metrics holds every counter/gauge pti updates as it runs.
type Metrics struct {
	registry *prometheus.Registry

	BuildsStarted  prometheus.Counter
	BuildsOK       prometheus.Counter
	BuildsFailed   prometheus.Counter
	BuildInFlight  prometheus.Gauge
	TestsSampled   *prometheus.CounterVec
	RunnerTimeouts prometheus.Counter
	RunnerCrashes  prometheus.Counter
}

// New registers and returns a fresh set of metrics on their own
// registry, so a test process can spin up as many independent
// Metrics instances as it needs without colliding on the default
// global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BuildsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pti_builds_started_total",
			Help: "Number of builds started.",
		}),
		BuildsOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "pti_builds_ok_total",
			Help: "Number of builds that completed successfully.",
		}),
		BuildsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pti_builds_failed_total",
			Help: "Number of builds that failed.",
		}),
		BuildInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pti_build_in_flight",
			Help: "1 while a build is running, 0 otherwise.",
		}),
		TestsSampled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pti_tests_sampled_total",
			Help: "Number of tests sampled, by result variant.",
		}, []string{"variant"}),
		RunnerTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pti_runner_timeouts_total",
			Help: "Number of CTS binary runs that ended in a timeout.",
		}),
		RunnerCrashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pti_runner_crashes_total",
			Help: "Number of CTS binary runs that ended in a crash.",
		}),
	}
}

// ObserveRunnerCause updates the runner-specific counters for a
// Runner's terminal Cause, if any.
func (m *Metrics) ObserveRunnerCause(cause deqprunner.Cause) {
	switch cause {
	case deqprunner.CauseTimeout:
		m.RunnerTimeouts.Inc()
	case deqprunner.CauseCrash:
		m.RunnerCrashes.Inc()
	}
}

// ObserveTestResult records one sampled test's outcome.
func (m *Metrics) ObserveTestResult(v deqprunner.Variant) {
	m.TestsSampled.WithLabelValues(v.String()).Inc()
}

// Handler returns the HTTP handler serving this registry's metrics in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server on addr until ctx is canceled. A
// blank addr disables metrics entirely: Serve returns nil immediately.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
