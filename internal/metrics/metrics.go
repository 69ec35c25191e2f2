// ABOUTME: Prometheus collector fed by fleet events on the bus
// ABOUTME: Counts events, deployment transitions, and failures, and tracks probes per heartbeat status

package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/store"
)

const namespace = "probe_fleet"

// StatsSource reports bus delivery counters. *events.Bus implements it.
type StatsSource interface {
	Stats() events.Stats
}

// Collector is a prometheus.Collector over fleet events. Attach it to a bus
// and register it with a prometheus registry.
type Collector struct {
	events      *prometheus.CounterVec
	deployments *prometheus.CounterVec
	failures    *prometheus.CounterVec
	evidence    prometheus.Counter

	probesDesc    *prometheus.Desc
	publishedDesc *prometheus.Desc
	deliveredDesc *prometheus.Desc
	failedDesc    *prometheus.Desc

	stats StatsSource

	mu       sync.RWMutex
	statuses map[string]health.Status // probe ID -> last heartbeat status
}

// NewCollector returns a Collector. stats may be nil.
func NewCollector(stats StatsSource) *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Events published on the bus by kind.",
			}, []string{"kind"},
		),
		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deployment",
				Name:      "transitions_total",
				Help:      "Deployment state changes by environment and resulting status.",
			}, []string{"environment", "status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Probe failures by error code.",
			}, []string{"error_code"},
		),
		evidence: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_total",
				Help:      "Evidence submissions accepted.",
			},
		),
		probesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "probes"),
			"Probes by last reported heartbeat status.",
			[]string{"status"}, nil,
		),
		publishedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bus", "published_total"),
			"Events published on the bus.", nil, nil,
		),
		deliveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bus", "delivered_total"),
			"Successful subscriber deliveries.", nil, nil,
		),
		failedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bus", "failed_total"),
			"Subscriber deliveries that returned an error or panicked.", nil, nil,
		),
		stats:    stats,
		statuses: make(map[string]health.Status),
	}
}

// Attach subscribes the collector to every event kind on bus.
func (c *Collector) Attach(bus *events.Bus) string {
	return bus.SubscribeAll("metrics", c.Handle)
}

// Seed loads the last known heartbeat status of each probe.
func (c *Collector) Seed(rows []*store.ProbeMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		c.statuses[row.ProbeID] = health.ClassifyStatus(row.HeartbeatStatus)
	}
}

// Handle records one event. It is an events.Handler.
func (c *Collector) Handle(_ context.Context, evt events.Event) error {
	c.events.WithLabelValues(string(evt.Kind)).Inc()

	switch p := evt.Payload.(type) {
	case events.Deployment:
		c.deployments.WithLabelValues(p.Environment, p.Status).Inc()
	case events.Evidence:
		c.evidence.Inc()
	case events.Heartbeat:
		c.setStatus(p.ProbeID, health.ClassifyStatus(p.Status))
	case events.Failure:
		c.failures.WithLabelValues(p.ErrorCode).Inc()
		if p.DeploymentID == "" {
			c.setStatus(p.ProbeID, health.StatusOutage)
		}
	}
	return nil
}

func (c *Collector) setStatus(probeID string, status health.Status) {
	if probeID == "" {
		return
	}
	c.mu.Lock()
	c.statuses[probeID] = status
	c.mu.Unlock()
}

// ProbeCounts returns the number of probes per heartbeat status.
func (c *Collector) ProbeCounts() map[health.Status]int {
	counts := map[health.Status]int{
		health.StatusOperational: 0,
		health.StatusDegraded:    0,
		health.StatusOutage:      0,
		health.StatusUnknown:     0,
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		counts[s]++
	}
	return counts
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.deployments.Describe(ch)
	c.failures.Describe(ch)
	c.evidence.Describe(ch)
	ch <- c.probesDesc
	if c.stats != nil {
		ch <- c.publishedDesc
		ch <- c.deliveredDesc
		ch <- c.failedDesc
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.deployments.Collect(ch)
	c.failures.Collect(ch)
	c.evidence.Collect(ch)

	for status, n := range c.ProbeCounts() {
		ch <- prometheus.MustNewConstMetric(c.probesDesc, prometheus.GaugeValue, float64(n), string(status))
	}

	if c.stats != nil {
		s := c.stats.Stats()
		ch <- prometheus.MustNewConstMetric(c.publishedDesc, prometheus.CounterValue, float64(s.Published))
		ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(s.Delivered))
		ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(s.Failed))
	}
}

// NewRegistry returns a registry holding c plus the Go and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
