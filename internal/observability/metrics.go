package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "lakedeploy"

// Metrics holds the Prometheus collectors recorded during a run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	apiRetries      *prometheus.CounterVec
	operationPolls  *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	deploymentsDone *prometheus.CounterVec
}

// NewMetrics creates a registry with every lakedeploy collector registered
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_requests_total",
			Help:      "REST requests issued, by service, method and status code.",
		}, []string{"service", "method", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "api_request_duration_seconds",
			Help:      "REST request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_retries_total",
			Help:      "REST requests retried after a throttling or transient error.",
		}, []string{"service"}),
		operationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_polls_total",
			Help:      "Status polls issued for long-running operations and jobs.",
		}, []string{"service"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Deployment step duration, by step and final status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"step", "status"}),
		deploymentsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deployments_total",
			Help:      "Deployments finished, by final state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.apiRequests,
		m.apiDuration,
		m.apiRetries,
		m.operationPolls,
		m.stepDuration,
		m.deploymentsDone,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one REST round trip. status 0 means no response was received.
func (m *Metrics) ObserveRequest(service, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(service, method, code).Inc()
	m.apiDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

// IncRetry records one retried request
func (m *Metrics) IncRetry(service string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(service).Inc()
}

// IncPoll records one status poll
func (m *Metrics) IncPoll(service string) {
	if m == nil {
		return
	}
	m.operationPolls.WithLabelValues(service).Inc()
}

// ObserveStep records a finished deployment step
func (m *Metrics) ObserveStep(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// IncDeployment records a finished deployment
func (m *Metrics) IncDeployment(state string) {
	if m == nil {
		return
	}
	m.deploymentsDone.WithLabelValues(state).Inc()
}

// WriteTextfile writes the current values in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
