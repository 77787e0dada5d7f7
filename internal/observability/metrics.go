package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/brandpulse/plugin/ai/agent"
)

const namespace = "brandpulse"

// Metrics collects request, agent and tool metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	runTotal     *prometheus.CounterVec
	runDuration  prometheus.Histogram
	activeRuns   prometheus.Gauge
	toolTotal    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	queryRetries prometheus.Counter
	domainGuard  *prometheus.CounterVec
	streamEvents *prometheus.CounterVec
}

// NewMetrics creates a metrics collector with Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent run latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_active_runs",
			Help:      "Agent runs in progress.",
		}),
		toolTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tool_calls_total",
			Help:      "Tool calls by tool and result.",
		}, []string{"tool", "result"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_tool_duration_seconds",
			Help:      "Tool call latency by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		queryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_query_retries_total",
			Help:      "Corrective query retries granted to the model.",
		}),
		domainGuard: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_domain_guard_total",
			Help:      "Domain classifications by method and verdict.",
		}, []string{"method", "in_domain"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Server-sent events written by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.runTotal,
		m.runDuration,
		m.activeRuns,
		m.toolTotal,
		m.toolDuration,
		m.queryRetries,
		m.domainGuard,
		m.streamEvents,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGauge exposes a value computed at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveRun implements agent.Observer.
func (m *Metrics) ObserveRun(outcome agent.Outcome, duration time.Duration) {
	m.runTotal.WithLabelValues(string(outcome)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveTool implements agent.Observer.
func (m *Metrics) ObserveTool(tool string, failed bool, duration time.Duration) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.toolTotal.WithLabelValues(tool, result).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveQueryRetry implements agent.Observer.
func (m *Metrics) ObserveQueryRetry() {
	m.queryRetries.Inc()
}

// ObserveDomainGuard implements agent.Observer.
func (m *Metrics) ObserveDomainGuard(method string, inDomain bool) {
	m.domainGuard.WithLabelValues(method, strconv.FormatBool(inDomain)).Inc()
}

// RunStarted and RunFinished track in-flight runs.
func (m *Metrics) RunStarted() { m.activeRuns.Inc() }

func (m *Metrics) RunFinished() { m.activeRuns.Dec() }

// RecordStreamEvent counts a written server-sent event.
func (m *Metrics) RecordStreamEvent(kind string) {
	m.streamEvents.WithLabelValues(kind).Inc()
}

// Middleware records request counts and latency by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			code := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					code = he.Code
				} else if !c.Response().Committed {
					code = http.StatusInternalServerError
				}
			}
			m.requestTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
			m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

var _ agent.Observer = (*Metrics)(nil)
