package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the OpMode runtime. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// OpMode runs
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	activeOpMode  *prometheus.GaugeVec

	// Control cycles
	cycleDuration *prometheus.HistogramVec
	cycleOverruns *prometheus.CounterVec

	// Motion
	motions        *prometheus.CounterVec
	motionDuration *prometheus.HistogramVec

	// Faults and policy
	errorsByClass  *prometheus.CounterVec
	errorsByCode   *prometheus.CounterVec
	policyDenials  *prometheus.CounterVec
	safeStops      prometheus.Counter
	safeStopErrors prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "opmode_runs_started_total",
				Help:      "Total number of OpMode activations",
			},
			[]string{"opmode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "opmode_runs_completed_total",
				Help:      "Total number of OpMode activations that reached STOPPED",
			},
			[]string{"opmode", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "opmode_run_duration_seconds",
				Help:      "Time from init to STOPPED",
				Buckets:   buckets,
			},
			[]string{"opmode", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "opmode_transitions_total",
				Help:      "Lifecycle state transitions",
			},
			[]string{"from", "to"},
		),
		activeOpMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "opmode_active",
				Help:      "1 while the named OpMode is not STOPPED",
			},
			[]string{"opmode"},
		),

		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Time spent inside one iterative hook invocation",
				Buckets:   buckets,
			},
			[]string{"hook"},
		),
		cycleOverruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_overruns_total",
				Help:      "Hook invocations that took longer than one quantum",
			},
			[]string{"hook"},
		),

		motions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "motion_requests_total",
				Help:      "Motion requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		motionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "motion_duration_seconds",
				Help:      "Duration of motion requests",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Errors by class (configuration, caller, runtime)",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Errors by code",
			},
			[]string{"code"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Motion requests denied by a safety policy",
			},
			[]string{"rule"},
		),
		safeStops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safe_stops_total",
				Help:      "Safe-stop transitions performed",
			},
		),
		safeStopErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safe_stop_errors_total",
				Help:      "Safe-stop transitions where at least one device write failed",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.transitions,
		m.activeOpMode,
		m.cycleDuration,
		m.cycleOverruns,
		m.motions,
		m.motionDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.policyDenials,
		m.safeStops,
		m.safeStopErrors,
	)

	return m, nil
}

// RecordRunStarted counts an OpMode activation.
func (m *Metrics) RecordRunStarted(opmode string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(opmode).Inc()
	m.activeOpMode.WithLabelValues(opmode).Set(1)
}

// RecordRunCompleted records an activation reaching STOPPED.
func (m *Metrics) RecordRunCompleted(opmode, outcome string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(opmode, outcome).Inc()
	m.runDuration.WithLabelValues(opmode, outcome).Observe(duration.Seconds())
	m.activeOpMode.WithLabelValues(opmode).Set(0)
}

// RecordTransition counts a lifecycle state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordCycle records one hook invocation and whether it overran the quantum.
func (m *Metrics) RecordCycle(hook string, took, quantum time.Duration) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.WithLabelValues(hook).Observe(took.Seconds())
	if quantum > 0 && took > quantum {
		m.cycleOverruns.WithLabelValues(hook).Inc()
	}
}

// RecordMotion records a finished motion request.
func (m *Metrics) RecordMotion(kind, outcome string, duration time.Duration) {
	if m == nil || m.motions == nil {
		return
	}
	m.motions.WithLabelValues(kind, outcome).Inc()
	m.motionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordPolicyDenial counts a motion denied by a policy rule.
func (m *Metrics) RecordPolicyDenial(rule string) {
	if m == nil || m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(rule).Inc()
}

// RecordSafeStop counts a safe-stop transition.
func (m *Metrics) RecordSafeStop(err error) {
	if m == nil || m.safeStops == nil {
		return
	}
	m.safeStops.Inc()
	if err != nil {
		m.safeStopErrors.Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done. It returns nil
// immediately when metrics are disabled.
func (m *Metrics) Serve(ctx context.Context) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
