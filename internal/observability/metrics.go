package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wotlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages handled by the consumer, by kind and status.",
		},
		[]string{"node", "kind", "status"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wotlink",
			Subsystem: "dispatch",
			Name:      "message_duration_seconds",
			Help:      "Time spent handling one message.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "kind"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Payload bytes acknowledged by the transport.",
		},
		[]string{"node", "kind"},
	)
	packetRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Extra attempts spent on interior chunks.",
		},
		[]string{"node", "transport"},
	)
	closeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "transport",
			Name:      "close_failures_total",
			Help:      "Close failures after a successful send.",
		},
		[]string{"node", "op"},
	)
	queueRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wotlink",
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Submissions rejected because the queue was full.",
		},
		[]string{"node"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wotlink",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages waiting for the consumer.",
		},
		[]string{"node"},
	)
	linkUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wotlink",
			Subsystem: "link",
			Name:      "up",
			Help:      "1 when the network link is up.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatched, dispatchDuration,
			transferBytes, packetRetries, closeFailures,
			queueRejected, queueDepth, linkUp,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(node, kind, status string, bytes int, duration time.Duration) {
	RegisterMetrics()
	dispatched.WithLabelValues(node, kind, status).Inc()
	dispatchDuration.WithLabelValues(node, kind).Observe(duration.Seconds())
	if bytes > 0 {
		transferBytes.WithLabelValues(node, kind).Add(float64(bytes))
	}
}

func RecordRetries(node, transport string, extra int) {
	if extra <= 0 {
		return
	}
	RegisterMetrics()
	packetRetries.WithLabelValues(node, transport).Add(float64(extra))
}

func RecordCloseFailure(node, op string) {
	RegisterMetrics()
	closeFailures.WithLabelValues(node, op).Inc()
}

func RecordQueueRejected(node string) {
	RegisterMetrics()
	queueRejected.WithLabelValues(node).Inc()
}

func SetQueueDepth(node string, depth int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(node).Set(float64(depth))
}

func SetLinkUp(node string, up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1
	}
	linkUp.WithLabelValues(node).Set(v)
}
