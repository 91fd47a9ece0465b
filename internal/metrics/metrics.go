// Package metrics registers the Prometheus collectors for both binaries.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadkit_http_request_duration_seconds",
		Help:    "HTTP request latency by route, method, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	CommentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadkit_comments_created_total",
		Help: "Comments accepted, including those held for moderation.",
	})

	VotesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadkit_votes_applied_total",
		Help: "Vote transitions applied to page trees.",
	})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadkit_events_published_total",
		Help: "Domain events published on the Redis bus.",
	})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadkit_page_lock_contention_total",
		Help: "Writes that exhausted page lock retries.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadkit_ws_connections",
		Help: "Open websocket connections on this fanout process.",
	})

	WSSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadkit_ws_subscriptions",
		Help: "Active page subscriptions on this fanout process.",
	})

	WSDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadkit_ws_dropped_messages_total",
		Help: "Messages dropped because a client send buffer was full.",
	})

	BatchFlushOps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "threadkit_batch_flush_ops",
		Help:    "Redis commands per batcher flush.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// Handler serves /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// GinMiddleware observes request latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(
			route,
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
