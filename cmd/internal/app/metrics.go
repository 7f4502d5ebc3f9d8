package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "daters"

// Metrics owns a private registry so tests can build several apps in one
// process without duplicate registration panics.
type Metrics struct {
	reg *prometheus.Registry

	logins        *prometheus.CounterVec
	registrations prometheus.Counter
	evictions     prometheus.Counter
	requests      *prometheus.HistogramVec
}

// Gauges are sampled on scrape. Nil funcs are not registered.
type Gauges struct {
	HasherQueueDepth func() int
	CacheEntries     func() int
	FeedConnections  func() int
	FeedDropped      func() uint64
}

func NewMetrics(g Gauges) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registrations_total",
			Help:      "Accepted registrations.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "expansion_cache",
			Name:      "evictions_total",
			Help:      "Users evicted from the expansion cache at capacity.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status class.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "class"}),
	}
	reg.MustRegister(m.logins, m.registrations, m.evictions, m.requests)

	gauge := func(subsystem, name, help string, fn func() int) {
		if fn == nil {
			return
		}
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) }))
	}
	gauge("hasher", "queue_depth", "Password hash jobs waiting for a worker.", g.HasherQueueDepth)
	gauge("expansion_cache", "entries", "Users currently held in the expansion cache.", g.CacheEntries)
	gauge("feed", "connections", "Open vote feed connections.", g.FeedConnections)

	if g.FeedDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "feed",
			Name:      "dropped_events_total",
			Help:      "Feed events dropped because a subscriber queue was full.",
		}, func() float64 { return float64(g.FeedDropped()) }))
	}

	// Known label values start at zero instead of appearing on first use.
	for _, r := range []string{"ok", "password", "registration", "error"} {
		m.logins.WithLabelValues(r)
	}
	return m
}

// Login implements api.Recorder.
func (m *Metrics) Login(result string) { m.logins.WithLabelValues(result).Inc() }

// Registration implements api.Recorder.
func (m *Metrics) Registration() { m.registrations.Inc() }

// Evicted is the expansion cache eviction hook.
func (m *Metrics) Evicted(string) { m.evictions.Inc() }

// ObserveRequest is a RequestObserver.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, statusClass(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
