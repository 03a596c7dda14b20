package workflow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline and tutoring
// activity.
type Metrics struct {
	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	activePipelines prometheus.Gauge
	tutorTurns      *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors other than AlreadyRegistered panic, surfacing
// configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "biotutor",
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each analysis stage, including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biotutor",
			Subsystem: "workflow",
			Name:      "stage_failures_total",
			Help:      "Analysis stages that settled in FAILED, by failure kind.",
		},
		[]string{"stage", "kind"},
	)
	activePipelines := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "biotutor",
			Subsystem: "workflow",
			Name:      "pipelines_active",
			Help:      "Analysis pipelines currently running.",
		},
	)
	tutorTurns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biotutor",
			Subsystem: "workflow",
			Name:      "tutor_turns_total",
			Help:      "Tutoring turns processed, by dialogue phase.",
		},
		[]string{"phase"},
	)

	collectors := []prometheus.Collector{stageDuration, stageFailures, activePipelines, tutorTurns}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case stageDuration:
					stageDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case stageFailures:
					stageFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case activePipelines:
					activePipelines = already.ExistingCollector.(prometheus.Gauge)
				case tutorTurns:
					tutorTurns = already.ExistingCollector.(*prometheus.CounterVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		stageDuration:   stageDuration,
		stageFailures:   stageFailures,
		activePipelines: activePipelines,
		tutorTurns:      tutorTurns,
	}
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) incFailure(stage, kind string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) addPipelines(delta float64) {
	if m == nil || m.activePipelines == nil {
		return
	}
	m.activePipelines.Add(delta)
}

func (m *Metrics) incTurn(phase string) {
	if m == nil || m.tutorTurns == nil {
		return
	}
	m.tutorTurns.WithLabelValues(phase).Inc()
}
