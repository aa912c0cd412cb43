package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - счётчики Prometheus конвейера генерации. Все методы безопасны
// при nil-получателе, поэтому конвейер можно собирать и без метрик.
type Metrics struct {
	generated       prometheus.Counter
	remeshed        prometheus.Counter
	failures        prometheus.Counter
	generateSeconds prometheus.Histogram
	meshSeconds     prometheus.Histogram
	queueDepth      prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в дефолтном регистре.
// Вызывать не более одного раза на процесс.
func NewMetrics() *Metrics {
	m := &Metrics{
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "chunks_generated_total",
			Help:      "Общее число сгенерированных чанков.",
		}),
		remeshed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "chunks_remeshed_total",
			Help:      "Общее число повторных мешингов готовых буферов.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "failures_total",
			Help:      "Число операций конвейера, завершившихся ошибкой.",
		}),
		generateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pipeline",
			Name:      "generate_duration_seconds",
			Help:      "Длительность генерации воксельной сетки чанка.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		meshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pipeline",
			Name:      "mesh_duration_seconds",
			Help:      "Длительность построения геометрии чанка.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "queue_depth",
			Help:      "Текущее число заданий в очереди пула.",
		}),
	}

	prometheus.MustRegister(m.generated, m.remeshed, m.failures,
		m.generateSeconds, m.meshSeconds, m.queueDepth)
	return m
}

func (m *Metrics) incGenerated() {
	if m == nil {
		return
	}
	m.generated.Inc()
}

func (m *Metrics) incRemeshed() {
	if m == nil {
		return
	}
	m.remeshed.Inc()
}

func (m *Metrics) incFailures() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) observeGenerate(seconds float64) {
	if m == nil {
		return
	}
	m.generateSeconds.Observe(seconds)
}

func (m *Metrics) observeMesh(seconds float64) {
	if m == nil {
		return
	}
	m.meshSeconds.Observe(seconds)
}

func (m *Metrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
