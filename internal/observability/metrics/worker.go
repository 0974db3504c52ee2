package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

// PipelineMetrics records intake pipeline outcomes. It registers into a shared
// registry so the api process exposes one /metrics endpoint.
type PipelineMetrics struct {
	service string

	batchTotal     *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	batchInFlight  prometheus.Gauge
	documentsTotal *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepTotal      *prometheus.CounterVec
	chargeLinks    *prometheus.CounterVec
	llmRetries     *prometheus.CounterVec
	breakerOpen    *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, registry prometheus.Registerer) *PipelineMetrics {
	constLabels := prometheus.Labels{"service": service}

	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "batches_total",
			Help:        "Total processed batches by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "batch_duration_seconds",
			Help:        "End-to-end batch processing duration in seconds.",
			Buckets:     []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
			ConstLabels: constLabels,
		},
	)
	batchInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "batches_in_flight",
			Help:        "Number of batches being processed.",
			ConstLabels: constLabels,
		},
	)
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "documents_total",
			Help:        "Total validated documents by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "step_duration_seconds",
			Help:        "Pipeline step duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"step"},
	)
	stepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "pin",
			Subsystem:   "pipeline",
			Name:        "steps_total",
			Help:        "Completed pipeline steps by final status.",
			ConstLabels: constLabels,
		},
		[]string{"step", "status"},
	)
	chargeLinks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "pin",
			Subsystem:   "registry",
			Name:        "charge_links_total",
			Help:        "Charge link captures by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	llmRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "pin",
			Subsystem:   "llm",
			Name:        "retries_total",
			Help:        "Retries of rate limited LLM calls by operation.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "pin",
			Name:        "circuit_breaker_open",
			Help:        "1 while the circuit of an operation is open or half-open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(batchTotal, batchDuration, batchInFlight, documentsTotal, stepDuration, stepTotal, chargeLinks, llmRetries, breakerOpen)

	return &PipelineMetrics{
		service:        service,
		batchTotal:     batchTotal,
		batchDuration:  batchDuration,
		batchInFlight:  batchInFlight,
		documentsTotal: documentsTotal,
		stepDuration:   stepDuration,
		stepTotal:      stepTotal,
		chargeLinks:    chargeLinks,
		llmRetries:     llmRetries,
		breakerOpen:    breakerOpen,
	}
}

func (m *PipelineMetrics) StartBatch() {
	m.batchInFlight.Inc()
}

func (m *PipelineMetrics) FinishBatch(duration time.Duration, err error) {
	m.batchInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.batchTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDocument(outcome string) {
	m.documentsTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveStep(step domain.ProgressStep, status domain.ProgressStatus, seconds float64) {
	m.stepTotal.WithLabelValues(string(step), string(status)).Inc()
	if seconds >= 0 {
		m.stepDuration.WithLabelValues(string(step)).Observe(seconds)
	}
}

func (m *PipelineMetrics) ObserveChargeLink(outcome string) {
	m.chargeLinks.WithLabelValues(outcome).Inc()
}

// ObserveRetry matches resilience.RetryObserver.
func (m *PipelineMetrics) ObserveRetry(operation string, _ int, _ time.Duration) {
	m.llmRetries.WithLabelValues(operation).Inc()
}

// ObserveBreaker matches resilience.BreakerObserver.
func (m *PipelineMetrics) ObserveBreaker(operation string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.WithLabelValues(operation).Set(value)
}

// Instrument wraps a processor with batch counters.
func (m *PipelineMetrics) Instrument(next ports.PortfolioProcessor) ports.PortfolioProcessor {
	return instrumentedProcessor{next: next, metrics: m}
}

type instrumentedProcessor struct {
	next    ports.PortfolioProcessor
	metrics *PipelineMetrics
}

func (p instrumentedProcessor) Process(ctx context.Context, portfolioID string, docs []domain.RawDocument) (*domain.BatchResult, error) {
	start := time.Now()
	p.metrics.StartBatch()
	batch, err := p.next.Process(ctx, portfolioID, docs)
	p.metrics.FinishBatch(time.Since(start), err)
	return batch, err
}
