package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns            *prometheus.CounterVec
	ParseFailures    prometheus.Counter
	MemoryWrites     prometheus.Counter
	MemoryRetrievals prometheus.Histogram
	StageTransitions *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	TurnLatency      prometheus.Histogram
}

// NewMetrics registers the instruments with reg. Pass a fresh registry
// in tests to avoid duplicate registration panics.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled turns by outcome.",
		}, []string{"outcome"}),
		ParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Model outputs with no extractable JSON object.",
		}),
		MemoryWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Long-term memories persisted.",
		}),
		MemoryRetrievals: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_retrieval_results",
			Help:      "Memories returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Applied stage transitions by from/to label.",
		}, []string{"from", "to"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by operation.",
		}, []string{"operation"}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn handling latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		}),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
