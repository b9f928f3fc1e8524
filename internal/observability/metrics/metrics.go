// Package metrics exposes hook and HTTP metrics through a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhangpanweb/tapable/pkg/hook"
)

const ctxStart = "metrics.start"

// Metrics owns the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	hookCalls    *prometheus.CounterVec
	hookErrors   *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec
	tapCalls     *prometheus.CounterVec
	tapsGauge    *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors under namespace. An empty namespace defaults
// to "tapable".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tapable"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hookCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "calls_total",
				Help:      "Total hook invocations.",
			},
			[]string{"hook"},
		),
		hookErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "errors_total",
				Help:      "Hook invocations that ended with an error.",
			},
			[]string{"hook"},
		),
		hookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "call_duration_seconds",
				Help:      "Hook invocation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"hook", "outcome"},
		),
		tapCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "tap_invocations_total",
				Help:      "Tap invocations per hook and tap.",
			},
			[]string{"hook", "tap"},
		),
		tapsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "registered_taps",
				Help:      "Taps registered on a hook.",
			},
			[]string{"hook"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"handler", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.hookCalls, m.hookErrors, m.hookDuration, m.tapCalls, m.tapsGauge,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Interceptor counts calls, errors, taps and durations of the hook named
// hookName. Adding it also counts the taps already registered.
func (m *Metrics) Interceptor(hookName string) hook.Interceptor {
	observe := func(ctx hook.CallContext, outcome string) {
		if start, ok := ctx[ctxStart].(time.Time); ok {
			m.hookDuration.WithLabelValues(hookName, outcome).Observe(time.Since(start).Seconds())
		}
	}
	return hook.Interceptor{
		Name:    "metrics",
		Context: true,
		Register: func(tap hook.Tap) *hook.Tap {
			m.tapsGauge.WithLabelValues(hookName).Inc()
			return nil
		},
		Call: func(ctx hook.CallContext, _ ...any) {
			m.hookCalls.WithLabelValues(hookName).Inc()
			if ctx != nil {
				ctx[ctxStart] = time.Now()
			}
		},
		Tap: func(_ hook.CallContext, tap hook.Tap) {
			m.tapCalls.WithLabelValues(hookName, tap.Name).Inc()
		},
		Error: func(ctx hook.CallContext, _ error) {
			m.hookErrors.WithLabelValues(hookName).Inc()
			observe(ctx, "error")
		},
		Result: func(ctx hook.CallContext, _ any) {
			observe(ctx, "result")
		},
		Done: func(ctx hook.CallContext) {
			observe(ctx, "done")
		},
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}
