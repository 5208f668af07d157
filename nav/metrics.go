package nav

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports path search counters. A nil *Metrics records nothing.
type Metrics struct {
	searches *prometheus.CounterVec
	duration prometheus.Histogram
	expanded prometheus.Histogram
	length   prometheus.Histogram
	selects  *prometheus.CounterVec
}

// NewMetrics registers the navigation collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nav_path_search_total",
			Help: "Path searches by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nav_path_search_duration_seconds",
			Help:    "Path search latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~80ms
		}),
		expanded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nav_path_search_expanded_nodes",
			Help:    "Nodes settled per search.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		length: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nav_path_length_nodes",
			Help:    "Node count of found paths.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89},
		}),
		selects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nav_waypoint_select_total",
			Help: "Wander waypoint selections by branch.",
		}, []string{"branch"}),
	}
	for _, c := range []prometheus.Collector{m.searches, m.duration, m.expanded, m.length, m.selects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeSearch(p Path, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "found"
	switch {
	case errors.Is(err, ErrSearchLimit):
		result = "limit"
	case err != nil:
		result = "invalid"
	case !p.Found():
		result = "unreachable"
	}
	m.searches.WithLabelValues(result).Inc()
	if err != nil {
		return
	}
	m.duration.Observe(d.Seconds())
	m.expanded.Observe(float64(p.Expanded))
	if p.Found() {
		m.length.Observe(float64(p.Len()))
	}
}

func (m *Metrics) observeSelect(branch string) {
	if m == nil {
		return
	}
	m.selects.WithLabelValues(branch).Inc()
}
