// Package metrics exposes bridge outcomes and runtime health as Prometheus
// collectors on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/version"
)

var _ puzzle.Observer = (*Collector)(nil)

// Health reports dependency state for the connection gauges.
type Health interface {
	MQTTConnected() bool
	PostgresConnected() bool
}

// Collector observes the engine and serves the /metrics endpoint.
type Collector struct {
	registry *prometheus.Registry

	bridges    *prometheus.CounterVec
	rejections *prometheus.CounterVec
	rewards    *prometheus.CounterVec
	scores     prometheus.Histogram
}

// New creates a collector labelled with programID. health may be nil.
func New(programID string, health Health) *Collector {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"program": programID, "version": version.Version}
	start := time.Now()

	c := &Collector{
		registry: reg,
		bridges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "enharmonic_bridges_total",
			Help:        "Committed bridges by pathway tag",
			ConstLabels: labels,
		}, []string{"tag"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "enharmonic_bridge_rejections_total",
			Help:        "Rejected bridge attempts by error code",
			ConstLabels: labels,
		}, []string{"code"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "enharmonic_rewards_minted_total",
			Help:        "Reward units minted by pathway tag",
			ConstLabels: labels,
		}, []string{"tag"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "enharmonic_coherence_score",
			Help:        "Coherence score of committed bridges",
			ConstLabels: labels,
			Buckets:     []float64{70, 75, 80, 85, 90, 95, 100},
		}),
	}

	reg.MustRegister(
		c.bridges,
		c.rejections,
		c.rewards,
		c.scores,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "enharmonic_uptime_seconds",
			Help:        "Number of seconds since the service started",
			ConstLabels: labels,
		}, func() float64 { return time.Since(start).Seconds() }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "enharmonic_events_total",
			Help:        "Total number of events emitted since startup",
			ConstLabels: labels,
		}, func() float64 { return float64(events.TotalCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "enharmonic_ws_clients",
			Help:        "Number of active WebSocket client connections",
			ConstLabels: labels,
		}, func() float64 { return float64(events.SubscriberCount()) }),
	)

	if health != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "enharmonic_mqtt_connected",
				Help:        "Whether the MQTT broker is connected (1) or not (0)",
				ConstLabels: labels,
			}, func() float64 { return boolGauge(health.MQTTConnected()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "enharmonic_postgres_connected",
				Help:        "Whether PostgreSQL is connected (1) or not (0)",
				ConstLabels: labels,
			}, func() float64 { return boolGauge(health.PostgresConnected()) }),
		)
	}

	// Pre-create label values so every pathway reports zero from the start.
	for _, p := range puzzle.Pathways() {
		c.bridges.WithLabelValues(string(p.Tag))
		c.rewards.WithLabelValues(string(p.Tag))
	}

	return c
}

func (c *Collector) BridgeCompleted(r puzzle.Receipt) {
	c.bridges.WithLabelValues(string(r.Tag)).Inc()
	c.rewards.WithLabelValues(string(r.Tag)).Add(float64(r.Reward))
	c.scores.Observe(float64(r.CoherenceScore))
}

func (c *Collector) BridgeRejected(_ uint64, err error) {
	c.rejections.WithLabelValues(puzzle.Code(err)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
