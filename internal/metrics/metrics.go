package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_feed_subscribers",
		Help: "Current number of live feed websocket subscribers",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages persisted",
	}, []string{"origin"})
	FeedEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_feed_events_dropped_total",
		Help: "Live events dropped because a subscriber could not keep up",
	})
	AIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ai_requests_total",
		Help: "Total number of AI completion requests",
	}, []string{"status"})
	AIRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_ai_request_duration_seconds",
		Help:    "AI completion latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32},
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(FeedSubscribers, MessagesTotal, FeedEventsDropped, AIRequestsTotal, AIRequestDuration, HttpRequestsTotal, HttpRequestDuration)
}

// ObserveAI 记录一次 AI 调用的结果与耗时。
func ObserveAI(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	AIRequestsTotal.WithLabelValues(status).Inc()
	AIRequestDuration.Observe(time.Since(start).Seconds())
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
