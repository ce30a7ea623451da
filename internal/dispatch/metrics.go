package dispatch

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports task lifecycle counters to Prometheus. All methods are
// nil-safe so wiring metrics stays optional in tests.
type Metrics struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	chunksRelayed prometheus.Counter
	taskDuration  *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher metrics against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huntlyd",
			Name:      "tasks_started_total",
			Help:      "Streaming tasks accepted, by backend.",
		}, []string{"backend"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huntlyd",
			Name:      "tasks_finished_total",
			Help:      "Streaming tasks finished, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		chunksRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntlyd",
			Name:      "chunks_relayed_total",
			Help:      "Stream chunks relayed to tabs.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "huntlyd",
			Name:      "task_duration_seconds",
			Help:      "Wall time from task start to terminal event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
	}
	collectors := []prometheus.Collector{m.tasksStarted, m.tasksFinished, m.chunksRelayed, m.taskDuration}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register dispatcher metric: %w", err)
		}
	}
	return m, nil
}

// TaskStarted counts an accepted task.
func (m *Metrics) TaskStarted(backend string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(backend).Inc()
}

// TaskFinished counts a terminal event and observes the task duration.
func (m *Metrics) TaskFinished(backend, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(backend, outcome).Inc()
	m.taskDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ChunkRelayed counts one relayed chunk.
func (m *Metrics) ChunkRelayed() {
	if m == nil {
		return
	}
	m.chunksRelayed.Inc()
}
