// Package metrics exposes the service counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bizcase"

// Registry owns every collector. It satisfies the observer interfaces of the
// LLM client, the validation controller and the job tracker.
type Registry struct {
	registry *prometheus.Registry

	llmRequests     *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	llmTimeouts     prometheus.Counter
	llmTimeoutAlert prometheus.Counter
	validations     *prometheus.CounterVec
	jobTransitions  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	r := &Registry{
		registry: registry,
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by outcome.",
		}, []string{"outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency by outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"outcome"}),
		llmTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_timeouts_total",
			Help:      "LLM requests that timed out.",
		}),
		llmTimeoutAlert: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_timeout_alerts_total",
			Help:      "Timeout bursts that crossed the alert threshold.",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_validations_total",
			Help:      "Structured output validation outcomes by contract.",
		}, []string{"contract", "outcome"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Jobs entering each status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.llmRequests,
		r.llmDuration,
		r.llmTimeouts,
		r.llmTimeoutAlert,
		r.validations,
		r.jobTransitions,
		r.httpRequests,
	)
	return r
}

func (r *Registry) ObserveLLMRequest(outcome string, duration time.Duration) {
	r.llmRequests.WithLabelValues(outcome).Inc()
	r.llmDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "timeout" {
		r.llmTimeouts.Inc()
	}
}

// TimeoutAlert is wired as the timeout monitor's alert callback.
func (r *Registry) TimeoutAlert(int) {
	r.llmTimeoutAlert.Inc()
}

func (r *Registry) ObserveValidation(contract string, outcome string) {
	r.validations.WithLabelValues(contract, outcome).Inc()
}

func (r *Registry) ObserveJobStatus(status string) {
	r.jobTransitions.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware counts every request by method and response code.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, req)
		r.httpRequests.WithLabelValues(req.Method, strconv.Itoa(recorder.status)).Inc()
	})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
