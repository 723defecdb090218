package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HivePrefix = "wwb_hive_"
	WaspPrefix = "wwb_wasp_"
)

// Registry wraps a prometheus registry owned by one hive or wasp instance, so
// several instances can live in one process (tests, local fleets).
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Handler serves the exposition format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// HTTP counts served requests by route pattern and status.
type HTTP struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTP(r *Registry, prefix string) *HTTP {
	f := promauto.With(r.reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "http_requests_total",
			Help: "Number of HTTP requests served, by method, route and status code",
		}, []string{"method", "route", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *HTTP) Observe(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Hive holds the controller's instruments.
type Hive struct {
	wasps          prometheus.Gauge
	running        prometheus.Gauge
	checkins       *prometheus.CounterVec
	heartbeats     *prometheus.CounterVec
	pruned         prometheus.Counter
	replaced       *prometheus.CounterVec
	runs           *prometheus.CounterVec
	reports        *prometheus.CounterVec
	ignoredReports prometheus.Counter
	fireErrors     prometheus.Counter
	runDuration    prometheus.Histogram
}

func NewHive(r *Registry) *Hive {
	f := promauto.With(r.reg)
	return &Hive{
		wasps: f.NewGauge(prometheus.GaugeOpts{
			Name: HivePrefix + "wasps",
			Help: "Number of registered wasps",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: HivePrefix + "running",
			Help: "1 while a run is in flight",
		}),
		checkins: f.NewCounterVec(prometheus.CounterOpts{
			Name: HivePrefix + "checkins_total",
			Help: "Number of wasp check-ins, by whether the wasp was new",
		}, []string{"new"}),
		heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: HivePrefix + "heartbeats_total",
			Help: "Number of heartbeats, by result",
		}, []string{"result"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Name: HivePrefix + "pruned_total",
			Help: "Number of wasps removed for a stale heartbeat",
		}),
		replaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: HivePrefix + "replacements_total",
			Help: "Number of local wasp replacements, by result",
		}, []string{"result"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: HivePrefix + "runs_total",
			Help: "Number of finalized runs, by finish reason",
		}, []string{"reason"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: HivePrefix + "reports_total",
			Help: "Number of accepted wasp reports, by status",
		}, []string{"status"}),
		ignoredReports: f.NewCounter(prometheus.CounterOpts{
			Name: HivePrefix + "ignored_reports_total",
			Help: "Number of reports dropped as late, duplicate or unknown",
		}),
		fireErrors: f.NewCounter(prometheus.CounterOpts{
			Name: HivePrefix + "fire_errors_total",
			Help: "Number of fire requests a wasp did not accept",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    HivePrefix + "run_duration_seconds",
			Help:    "Wall time from dispatch to finalization",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Hive) SetWasps(n int) { m.wasps.Set(float64(n)) }

func (m *Hive) Checkin(created bool) {
	m.checkins.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (m *Hive) Heartbeat(known bool) {
	result := "ok"
	if !known {
		result = "unknown"
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *Hive) Pruned(n int) { m.pruned.Add(float64(n)) }

func (m *Hive) Replaced(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.replaced.WithLabelValues(result).Inc()
}

func (m *Hive) RunStarted() { m.running.Set(1) }

func (m *Hive) RunFinished(reason string, elapsed time.Duration) {
	m.running.Set(0)
	m.runs.WithLabelValues(reason).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Hive) Report(status string) { m.reports.WithLabelValues(status).Inc() }

func (m *Hive) IgnoredReport() { m.ignoredReports.Inc() }

func (m *Hive) FireError() { m.fireErrors.Inc() }

// Wasp holds the agent's instruments.
type Wasp struct {
	busy              prometheus.Gauge
	fires             *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	heartbeatFailures prometheus.Counter
	checkins          prometheus.Counter
}

func NewWasp(r *Registry) *Wasp {
	f := promauto.With(r.reg)
	return &Wasp{
		busy: f.NewGauge(prometheus.GaugeOpts{
			Name: WaspPrefix + "busy",
			Help: "1 while wrk is running",
		}),
		fires: f.NewCounterVec(prometheus.CounterOpts{
			Name: WaspPrefix + "fires_total",
			Help: "Number of fire requests, by result",
		}, []string{"result"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: WaspPrefix + "runs_total",
			Help: "Number of finished wrk runs, by outcome",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    WaspPrefix + "run_duration_seconds",
			Help:    "Wall time of wrk runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		heartbeatFailures: f.NewCounter(prometheus.CounterOpts{
			Name: WaspPrefix + "heartbeat_failures_total",
			Help: "Number of heartbeats that did not reach the hive",
		}),
		checkins: f.NewCounter(prometheus.CounterOpts{
			Name: WaspPrefix + "checkins_total",
			Help: "Number of successful check-ins",
		}),
	}
}

func (m *Wasp) Fire(result string) { m.fires.WithLabelValues(result).Inc() }

func (m *Wasp) RunStarted() { m.busy.Set(1) }

func (m *Wasp) RunFinished(outcome string, elapsed time.Duration) {
	m.busy.Set(0)
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Wasp) HeartbeatFailed() { m.heartbeatFailures.Inc() }

func (m *Wasp) CheckedIn() { m.checkins.Inc() }
