package metrics

import (
	"net/http"
	"time"

	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders_saga"

// Resultados de uma saga
const (
	OutcomeStarted     = "started"
	OutcomeCompleted   = "completed"
	OutcomeCompensated = "compensated"
	OutcomeFailed      = "failed"
)

// SagaMetrics expõe contadores e latência das sagas. Métodos aceitam receiver nil.
type SagaMetrics struct {
	Sagas        *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	StepFailures *prometheus.CounterVec
}

// NewSagaMetrics cria e registra as métricas no registerer informado
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	sagas := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sagas_total",
		Help:      "Total number of sagas by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "saga_duration_seconds",
		Help:      "Time from saga start to its terminal status.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})
	stepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saga_step_failures_total",
		Help:      "Total number of failed saga steps by step name.",
	}, []string{"step"})

	reg.MustRegister(sagas, duration, stepFailures)
	return &SagaMetrics{Sagas: sagas, Duration: duration, StepFailures: stepFailures}
}

func (m *SagaMetrics) SagaStarted() {
	if m == nil {
		return
	}
	m.Sagas.WithLabelValues(OutcomeStarted).Inc()
}

// SagaFinished registra o resultado terminal e a duração da saga
func (m *SagaMetrics) SagaFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Sagas.WithLabelValues(outcome).Inc()
	m.Duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *SagaMetrics) StepFailed(step string) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(step).Inc()
}

// BreakerCollector publica o estado dos circuit breakers a cada scrape
type BreakerCollector struct {
	registry *resilience.Registry

	state     *prometheus.Desc
	successes *prometheus.Desc
	failures  *prometheus.Desc
	rejects   *prometheus.Desc
	timeouts  *prometheus.Desc
}

// NewBreakerCollector cria o collector para os breakers do registry
func NewBreakerCollector(registry *resilience.Registry) *BreakerCollector {
	labels := []string{"service", "breaker"}
	return &BreakerCollector{
		registry:  registry,
		state:     prometheus.NewDesc(namespace+"_circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open).", labels, nil),
		successes: prometheus.NewDesc(namespace+"_circuit_breaker_window_successes", "Successful calls in the rolling window.", labels, nil),
		failures:  prometheus.NewDesc(namespace+"_circuit_breaker_window_failures", "Failed calls in the rolling window.", labels, nil),
		rejects:   prometheus.NewDesc(namespace+"_circuit_breaker_window_rejects", "Rejected calls in the rolling window.", labels, nil),
		timeouts:  prometheus.NewDesc(namespace+"_circuit_breaker_window_timeouts", "Timed out calls in the rolling window.", labels, nil),
	}
}

func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.successes
	ch <- c.failures
	ch <- c.rejects
	ch <- c.timeouts
}

func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(service string, cb *resilience.CircuitBreaker) {
		s := cb.Stats()
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State), service, s.Name)
		ch <- prometheus.MustNewConstMetric(c.successes, prometheus.GaugeValue, float64(s.Successes), service, s.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.Failures), service, s.Name)
		ch <- prometheus.MustNewConstMetric(c.rejects, prometheus.GaugeValue, float64(s.Rejects), service, s.Name)
		ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.GaugeValue, float64(s.Timeouts), service, s.Name)
	})
}

// NewRegistry cria o registry Prometheus do serviço com os collectors de processo e runtime
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler expõe o registry no formato Prometheus
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
