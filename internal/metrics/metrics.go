package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives orchestrator events.
type Metrics interface {
	ObserveAttempt(provider, task, outcome string, durationSeconds float64)
	IncFallback(from, to string)
	IncResult(task, status string)
	SetProviderHealthy(provider string, healthy bool)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveAttempt(string, string, string, float64) {}
func (Noop) IncFallback(string, string)                     {}
func (Noop) IncResult(string, string)                       {}
func (Noop) SetProviderHealthy(string, bool)                {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
	results   *prometheus.CounterVec
	healthy   *prometheus.GaugeVec
	once      sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider transport calls by provider, task and outcome",
		}, []string{"provider", "task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Provider transport call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback attempts by failed and replacement provider",
		}, []string{"from", "to"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Task results by task category and status",
		}, []string{"task", "status"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_healthy",
			Help:      "1 when the last health probe of the provider succeeded",
		}, []string{"provider"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.attempts, p.latency, p.fallbacks, p.results, p.healthy)
	})
}

func (p *Prom) ObserveAttempt(provider, task, outcome string, durationSeconds float64) {
	p.attempts.WithLabelValues(provider, task, outcome).Inc()
	p.latency.WithLabelValues(provider).Observe(durationSeconds)
}

func (p *Prom) IncFallback(from, to string) {
	p.fallbacks.WithLabelValues(from, to).Inc()
}

func (p *Prom) IncResult(task, status string) {
	p.results.WithLabelValues(task, status).Inc()
}

func (p *Prom) SetProviderHealthy(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	p.healthy.WithLabelValues(provider).Set(v)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
