package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "nasabridge"

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// StatsSource is the part of the engine the collector scrapes.
// *nasa.Client satisfies it.
type StatsSource interface {
	Stats() nasa.ClientStats
	Online() bool
	DeviceList() []nasa.Device
}

// Metrics owns a private registry with the bridge's collectors.
//
// Engine counters are read from a StatsSource at scrape time; attribute
// values, HVAC actions and request outcomes are pushed by the bridge.
type Metrics struct {
	registry *prometheus.Registry

	attributeValue   *prometheus.GaugeVec
	attributeChanges *prometheus.CounterVec
	hvacAction       *prometheus.GaugeVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	commands         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec

	mu      sync.Mutex
	actions map[nasa.Address]nasa.HVACAction
	engine  bool
	ns      string
}

// New creates a Metrics with process and Go runtime collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ns:       namespace,
		actions:  make(map[nasa.Address]nasa.HVACAction),

		attributeValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attribute",
			Name:      "value",
			Help:      "Last decoded value of a non-raw attribute.",
		}, []string{"device", "attribute", "name"}),

		attributeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attribute",
			Name:      "changes_total",
			Help:      "Attribute value changes observed, by device.",
		}, []string{"device"}),

		hvacAction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hvac",
			Name:      "action",
			Help:      "Derived HVAC action per indoor unit; 1 for the current action.",
		}, []string{"device", "action"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "requests_total",
			Help:      "Read and write service calls by outcome.",
		}, []string{"operation", "outcome"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "request_duration_seconds",
			Help:      "Read and write service call latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"operation"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "commands_total",
			Help:      "High-level MQTT commands by command and outcome.",
		}, []string{"command", "outcome"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.attributeValue,
		m.attributeChanges,
		m.hvacAction,
		m.requests,
		m.requestDuration,
		m.commands,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchEngine registers a scrape-time collector over src.
// Only the first call has an effect.
func (m *Metrics) WatchEngine(src StatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine {
		return
	}
	m.registry.MustRegister(newEngineCollector(m.ns, src))
	m.engine = true
}

// ObserveAttribute records a new attribute value. Raw values only count
// as a change.
func (m *Metrics) ObserveAttribute(st nasa.AttributeState) {
	dev := st.Device.String()
	m.attributeChanges.WithLabelValues(dev).Inc()
	if st.Value.Kind == nasa.KindRaw || st.Value.IsZero() {
		return
	}
	m.attributeValue.WithLabelValues(dev, st.ID.String(), st.Name).Set(st.Value.Number)
}

// ObserveHVACAction moves the action gauge of device to action.
func (m *Metrics) ObserveHVACAction(device nasa.Address, action nasa.HVACAction) {
	m.mu.Lock()
	prev, had := m.actions[device]
	m.actions[device] = action
	m.mu.Unlock()

	dev := device.String()
	if had && prev != action {
		m.hvacAction.WithLabelValues(dev, prev.String()).Set(0)
	}
	m.hvacAction.WithLabelValues(dev, action.String()).Set(1)
}

// ObserveRequest records one read or write service call.
func (m *Metrics) ObserveRequest(operation string, took time.Duration, err error) {
	m.requests.WithLabelValues(operation, Outcome(err)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveCommand records one high-level MQTT command.
func (m *Metrics) ObserveCommand(command string, err error) {
	m.commands.WithLabelValues(command, Outcome(err)).Inc()
}

// ObserveHTTP records one HTTP API request.
func (m *Metrics) ObserveHTTP(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Outcome maps an engine error to a label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case isTimeout(err):
		return OutcomeTimeout
	case isRejected(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
