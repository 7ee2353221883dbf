package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of local API requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Local API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	feedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_feed_events_total",
			Help: "Feed events dispatched to the engine.",
		},
		[]string{"source"},
	)
	feedDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_feed_dropped_total",
			Help: "Feed events dropped before dispatch.",
		},
		[]string{"source", "reason"},
	)
	feedResubscribesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_feed_resubscribes_total",
			Help: "Feed subscription attempts after the first, by outcome.",
		},
		[]string{"source", "outcome"},
	)
	feedPollMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_feed_poll_mode",
			Help: "1 while the feed has degraded to polling.",
		},
		[]string{"source"},
	)
	reconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconciles_total",
			Help: "Reconcile passes by outcome.",
		},
		[]string{"outcome"},
	)
	relayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_relay_publish_errors_total",
			Help: "Relay publish failures by publisher.",
		},
		[]string{"publisher"},
	)
	threadAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_thread_appends_total",
			Help: "Thread appends by result (inserted, duplicate, replaced).",
		},
		[]string{"result"},
	)
	fetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_fetch_errors_total",
			Help: "Storage reads that failed, by operation.",
		},
		[]string{"op"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Local sends by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		feedEventsTotal,
		feedDroppedTotal,
		feedResubscribesTotal,
		feedPollMode,
		reconcilesTotal,
		relayErrorsTotal,
		threadAppendsTotal,
		fetchErrorsTotal,
		sendsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncFeedEvent(source string) {
	feedEventsTotal.WithLabelValues(source).Inc()
}

func IncFeedDropped(source, reason string) {
	feedDroppedTotal.WithLabelValues(source, reason).Inc()
}

func IncResubscribe(source, outcome string) {
	feedResubscribesTotal.WithLabelValues(source, outcome).Inc()
}

func SetPollMode(source string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	feedPollMode.WithLabelValues(source).Set(v)
}

func IncReconcile(outcome string) {
	reconcilesTotal.WithLabelValues(outcome).Inc()
}

func IncRelayError(publisher string) {
	relayErrorsTotal.WithLabelValues(publisher).Inc()
}

func IncThreadAppend(result string) {
	threadAppendsTotal.WithLabelValues(result).Inc()
}

func IncFetchError(op string) {
	fetchErrorsTotal.WithLabelValues(op).Inc()
}

func IncSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}
