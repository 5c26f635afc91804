// Package metrics exposes the node's operational measurements in Prometheus
// exposition format. One Collector serves both the settlement engine and the
// HTTP API; metrics are registered in a dedicated registry so the default
// global registry stays untouched.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearmesh/clearmesh/pkg/types"
)

// Collector implements the settlement engine's Metrics interface and records
// API request measurements. Safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	ordersCreated   *prometheus.CounterVec
	ordersFulfilled prometheus.Counter
	ordersRefunded  *prometheus.CounterVec
	settlementTime  prometheus.Histogram

	proposalsCreated  prometheus.Counter
	proposalsAccepted prometheus.Counter
	proposalsRejected prometheus.Counter
	proposalsTimedOut prometheus.Counter

	capacityReserved prometheus.Counter
	capacityReleased prometheus.Counter
	activeIntents    prometheus.Gauge

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	startTime time.Time
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "orders_created_total",
			Help:      "Orders created, labelled by size tier.",
		}, []string{"tier"}),
		ordersFulfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "orders_fulfilled_total",
			Help:      "Orders settled to completion.",
		}),
		ordersRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "orders_refunded_total",
			Help:      "Orders closed by refund, labelled by path.",
		}, []string{"path"}),
		settlementTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clearmesh",
			Name:      "settlement_duration_seconds",
			Help:      "Time from proposal creation to settlement execution.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		proposalsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "proposals_created_total",
			Help:      "Settlement proposals dispatched to providers.",
		}),
		proposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "proposals_accepted_total",
			Help:      "Proposals accepted by their provider.",
		}),
		proposalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "proposals_rejected_total",
			Help:      "Proposals declined by their provider.",
		}),
		proposalsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "proposals_timeout_total",
			Help:      "Proposals closed after their deadline lapsed.",
		}),
		capacityReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "capacity_reserved_total",
			Help:      "Provider capacity units reserved against intents.",
		}),
		capacityReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "capacity_released_total",
			Help:      "Provider capacity units released back to intents.",
		}),
		activeIntents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clearmesh",
			Name:      "active_intents",
			Help:      "Provider intents currently active.",
		}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearmesh",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clearmesh",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route"}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		c.ordersCreated,
		c.ordersFulfilled,
		c.ordersRefunded,
		c.settlementTime,
		c.proposalsCreated,
		c.proposalsAccepted,
		c.proposalsRejected,
		c.proposalsTimedOut,
		c.capacityReserved,
		c.capacityReleased,
		c.activeIntents,
		c.requestCount,
		c.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the exposition endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// ─── settlement.Metrics ──────────────────────────────────────────────────────

func (c *Collector) OrderCreated(tier types.OrderTier) {
	c.ordersCreated.WithLabelValues(tier.String()).Inc()
}

func (c *Collector) OrderFulfilled(latency time.Duration) {
	c.ordersFulfilled.Inc()
	c.settlementTime.Observe(latency.Seconds())
}

func (c *Collector) OrderRefunded(cancelled bool) {
	path := "router"
	if cancelled {
		path = "owner"
	}
	c.ordersRefunded.WithLabelValues(path).Inc()
}

func (c *Collector) ProposalCreated()  { c.proposalsCreated.Inc() }
func (c *Collector) ProposalAccepted() { c.proposalsAccepted.Inc() }
func (c *Collector) ProposalRejected() { c.proposalsRejected.Inc() }
func (c *Collector) ProposalTimedOut() { c.proposalsTimedOut.Inc() }

func (c *Collector) CapacityReserved(amount *big.Int) {
	c.capacityReserved.Add(bigToFloat(amount))
}

func (c *Collector) CapacityReleased(amount *big.Int) {
	c.capacityReleased.Add(bigToFloat(amount))
}

func (c *Collector) SetActiveIntents(n int) {
	c.activeIntents.Set(float64(n))
}

// ─── API measurements ────────────────────────────────────────────────────────

// RecordRequest records one completed API request.
func (c *Collector) RecordRequest(route, code string, duration time.Duration) {
	c.requestCount.WithLabelValues(route, code).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// bigToFloat converts a big integer amount to float64 for counter purposes.
// Precision loss on very large amounts is acceptable for monitoring.
func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
