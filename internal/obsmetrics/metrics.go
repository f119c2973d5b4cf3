// Package obsmetrics provides the Prometheus collectors shared by every hub service.
package obsmetrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics holds the collector families every hub service exposes on /metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	HandlerLatency   *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	MsgBusPublishTotal   *prometheus.CounterVec
	MsgBusSubscribeTotal *prometheus.CounterVec

	ProcessUptimeSeconds   prometheus.Gauge
	ProcessResidentMemory  prometheus.Gauge
	BuildInfo              *prometheus.GaugeVec

	serviceName string
	startTime   time.Time
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// Passing a nil registerer skips registration, which test code uses to avoid
// colliding with the global default registry across packages.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests handled, labeled by route and status code.",
			},
			[]string{"service", "route", "code"},
		),
		HandlerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handler_latency_seconds",
				Help:    "HTTP handler latency in seconds, labeled by route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"service", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being handled.",
			},
		),
		MsgBusPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgbus_publish_total",
				Help: "Total messages published to the bus, labeled by subject.",
			},
			[]string{"service", "subject"},
		),
		MsgBusSubscribeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgbus_subscribe_total",
				Help: "Total messages delivered to subscribers, labeled by subject.",
			},
			[]string{"service", "subject"},
		),
		ProcessUptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "process_uptime_seconds",
				Help: "Seconds since the process started.",
			},
		),
		ProcessResidentMemory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "process_resident_memory_bytes",
				Help: "Resident set size of the process, in bytes.",
			},
		),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "build_info",
				Help: "Build metadata; value is always 1, labels carry the information.",
			},
			[]string{"service", "version", "build_sha", "build_time"},
		),
		serviceName: serviceName,
		startTime:   time.Now(),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.HandlerLatency,
			m.RequestsInFlight,
			m.MsgBusPublishTotal,
			m.MsgBusSubscribeTotal,
			m.ProcessUptimeSeconds,
			m.ProcessResidentMemory,
			m.BuildInfo,
		)
	}

	return m
}

// SetBuildInfo records the build_info gauge for this service.
func (m *Metrics) SetBuildInfo(version, buildSHA, buildTime string) {
	m.BuildInfo.WithLabelValues(m.serviceName, version, buildSHA, buildTime).Set(1)
}

// RecordHTTPRequest records a completed HTTP request against route, labeled
// with its resolved mux route pattern (not the raw path, to keep cardinality
// bounded) and status code.
func (m *Metrics) RecordHTTPRequest(route, code string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(m.serviceName, route, code).Inc()
	m.HandlerLatency.WithLabelValues(m.serviceName, route).Observe(duration.Seconds())
}

// RecordPublish records one bus publish on subject.
func (m *Metrics) RecordPublish(subject string) {
	m.MsgBusPublishTotal.WithLabelValues(m.serviceName, subject).Inc()
}

// RecordSubscribeDelivery records one bus message delivered to a subscriber
// of subject.
func (m *Metrics) RecordSubscribeDelivery(subject string) {
	m.MsgBusSubscribeTotal.WithLabelValues(m.serviceName, subject).Inc()
}

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// RefreshProcessGauges updates process_uptime_seconds and
// process_resident_memory_bytes. Services call this on a ticker (typically
// every 15s) since gopsutil's /proc read is not free enough to do per-request.
func (m *Metrics) RefreshProcessGauges() {
	m.ProcessUptimeSeconds.Set(time.Since(m.startTime).Seconds())

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if rss, err := proc.MemoryInfo(); err == nil && rss != nil {
		m.ProcessResidentMemory.Set(float64(rss.RSS))
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes (once) and returns the process-wide Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the process-wide Metrics instance, initializing a fallback
// named "unknown" if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
