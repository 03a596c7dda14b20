package sse

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report publisher activity.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	eventsBuffered  prometheus.Gauge
	subscribers     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Created once to avoid duplicate
// registration panics when multiple publishers exist (e.g. in tests).
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
	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biotutor",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total events published, by delivery path.",
		},
		[]string{"path"},
	)
	eventsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biotutor",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped, by reason (subscriber buffer full, pending buffer evicted).",
		},
		[]string{"reason"},
	)
	eventsBuffered := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "biotutor",
			Subsystem: "events",
			Name:      "pending_buffered",
			Help:      "Events currently held in pending buffers across all sessions.",
		},
	)
	subscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "biotutor",
			Subsystem: "events",
			Name:      "active_subscribers",
			Help:      "Currently registered event subscribers.",
		},
	)

	collectors := []prometheus.Collector{eventsPublished, eventsDropped, eventsBuffered, subscribers}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					switch target {
					case eventsPublished:
						eventsPublished = already.ExistingCollector.(*prometheus.CounterVec)
					case eventsDropped:
						eventsDropped = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					switch target {
					case eventsBuffered:
						eventsBuffered = already.ExistingCollector.(prometheus.Gauge)
					case subscribers:
						subscribers = already.ExistingCollector.(prometheus.Gauge)
					}
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		eventsPublished: eventsPublished,
		eventsDropped:   eventsDropped,
		eventsBuffered:  eventsBuffered,
		subscribers:     subscribers,
	}
}

func (m *Metrics) incPublished(path string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(path).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) addBuffered(delta float64) {
	if m == nil || m.eventsBuffered == nil {
		return
	}
	m.eventsBuffered.Add(delta)
}

func (m *Metrics) addSubscribers(delta float64) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Add(delta)
}
