// Package metrics exposes simulation counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages the simulation metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	exposuresTotal   *prometheus.CounterVec
	exposureDuration prometheus.Histogram
	reactionsTotal   *prometheus.CounterVec
	deactivated      prometheus.Counter
	activeContent    prometheus.Gauge
	queuedContent    prometheus.Gauge
	currentDay       prometheus.Gauge
	eventsTotal      prometheus.Counter
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "adsim"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.exposuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exposures_total",
			Help:      "Exposures processed, by outcome",
		},
		[]string{"outcome"},
	)
	c.exposureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exposure_duration_seconds",
			Help:      "Time spent on one exposure including generation",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.reactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_total",
			Help:      "Validated reactions, by action",
		},
		[]string{"action"},
	)
	c.deactivated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_deactivated_total",
		Help:      "Content items retired for low score",
	})
	c.activeContent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "content_active",
		Help:      "Active content items",
	})
	c.queuedContent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "content_queued",
		Help:      "Content items left in today's queue",
	})
	c.currentDay = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "simulation_day",
		Help:      "Current simulated day",
	})
	c.eventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "life_events_total",
		Help:      "Daily event texts delivered to agents",
	})

	c.registry.MustRegister(
		c.exposuresTotal,
		c.exposureDuration,
		c.reactionsTotal,
		c.deactivated,
		c.activeContent,
		c.queuedContent,
		c.currentDay,
		c.eventsTotal,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveExposure records one exposure outcome and its duration.
func (c *Collector) ObserveExposure(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.exposuresTotal.WithLabelValues(outcome).Inc()
	c.exposureDuration.Observe(d.Seconds())
}

// ObserveReaction counts every action set on a reaction.
func (c *Collector) ObserveReaction(actions ...string) {
	if c == nil {
		return
	}
	for _, a := range actions {
		c.reactionsTotal.WithLabelValues(a).Inc()
	}
}

// ContentDeactivated counts a retired item.
func (c *Collector) ContentDeactivated() {
	if c == nil {
		return
	}
	c.deactivated.Inc()
}

// SetDay updates the day gauges.
func (c *Collector) SetDay(day, active, queued int) {
	if c == nil {
		return
	}
	c.currentDay.Set(float64(day))
	c.activeContent.Set(float64(active))
	c.queuedContent.Set(float64(queued))
}

// AddEvents counts delivered event texts.
func (c *Collector) AddEvents(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsTotal.Add(float64(n))
}
