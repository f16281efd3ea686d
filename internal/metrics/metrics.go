// Package metrics exposes prometheus collectors for the HTTP surface and for
// the reconcile and outreach event streams.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"salesops_backend/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salesops"

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	purchasesReconciled *prometheus.CounterVec
	purchaseSyncRuns    *prometheus.CounterVec
	purchaseSyncOrders  *prometheus.CounterVec
	outreachAttempts    *prometheus.CounterVec
	outreachRuns        *prometheus.CounterVec
}

// New registers every collector on reg and serves reg from Handler.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		purchasesReconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_reconciled_total",
				Help:      "Purchase signals processed, by source and ledger outcome",
			},
			[]string{"source", "outcome"},
		),
		purchaseSyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_sync_runs_total",
				Help:      "Purchase sync runs, by result",
			},
			[]string{"result", "error_kind"},
		),
		purchaseSyncOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_sync_orders_total",
				Help:      "Orders counted by completed sync runs, by bucket",
			},
			[]string{"bucket"},
		),
		outreachAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outreach_attempts_total",
				Help:      "Outreach attempts, by outcome, reason and trigger",
			},
			[]string{"outcome", "reason", "trigger"},
		),
		outreachRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outreach_runs_total",
				Help:      "Outreach dispatch invocations, by trigger",
			},
			[]string{"trigger"},
		),
	}
}

// Subscribe feeds the collectors from the domain event bus.
func (m *Metrics) Subscribe(bus events.Bus) {
	bus.Subscribe(events.PurchaseReconciled{}.EventName(), events.HandlerFunc(m.onPurchaseReconciled))
	bus.Subscribe(events.PurchaseSyncCompleted{}.EventName(), events.HandlerFunc(m.onPurchaseSyncCompleted))
	bus.Subscribe(events.PurchaseSyncAborted{}.EventName(), events.HandlerFunc(m.onPurchaseSyncAborted))
	bus.Subscribe(events.OutreachAttempted{}.EventName(), events.HandlerFunc(m.onOutreachAttempted))
	bus.Subscribe(events.OutreachRunCompleted{}.EventName(), events.HandlerFunc(m.onOutreachRunCompleted))
}

func (m *Metrics) onPurchaseReconciled(_ context.Context, event events.Event) error {
	if e, ok := event.(events.PurchaseReconciled); ok {
		m.purchasesReconciled.WithLabelValues(e.Source, e.Outcome).Inc()
	}
	return nil
}

func (m *Metrics) onPurchaseSyncCompleted(_ context.Context, event events.Event) error {
	e, ok := event.(events.PurchaseSyncCompleted)
	if !ok {
		return nil
	}
	m.purchaseSyncRuns.WithLabelValues("completed", "").Inc()
	m.purchaseSyncOrders.WithLabelValues("fetched").Add(float64(e.TotalFetched))
	m.purchaseSyncOrders.WithLabelValues("updated").Add(float64(e.Updated))
	m.purchaseSyncOrders.WithLabelValues("inserted").Add(float64(e.Inserted))
	m.purchaseSyncOrders.WithLabelValues("already_synced").Add(float64(e.AlreadySynced))
	m.purchaseSyncOrders.WithLabelValues("skipped").Add(float64(e.Skipped))
	m.purchaseSyncOrders.WithLabelValues("failed").Add(float64(e.Failed))
	return nil
}

func (m *Metrics) onPurchaseSyncAborted(_ context.Context, event events.Event) error {
	if e, ok := event.(events.PurchaseSyncAborted); ok {
		m.purchaseSyncRuns.WithLabelValues("aborted", e.ErrorKind).Inc()
	}
	return nil
}

func (m *Metrics) onOutreachAttempted(_ context.Context, event events.Event) error {
	if e, ok := event.(events.OutreachAttempted); ok {
		m.outreachAttempts.WithLabelValues(e.Outcome, e.Reason, e.Trigger).Inc()
	}
	return nil
}

func (m *Metrics) onOutreachRunCompleted(_ context.Context, event events.Event) error {
	if e, ok := event.(events.OutreachRunCompleted); ok {
		m.outreachRuns.WithLabelValues(e.Trigger).Inc()
	}
	return nil
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
