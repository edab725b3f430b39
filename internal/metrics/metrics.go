package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kobweb"

// broadcastBuckets sizes the fan-out histogram; broadcasts go to every
// subscriber of a route, so low counts dominate.
var broadcastBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}

// Metrics is the Prometheus registry and instruments for one server. All
// methods are safe on a nil receiver so instrumented code paths need no
// guards when metrics are disabled.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	streamSessions      prometheus.Gauge
	streamMessages      *prometheus.CounterVec
	broadcastRecipients prometheus.Histogram
	statusFeedClients   prometheus.Gauge
}

// New creates a Metrics with its own registry and all instruments
// registered, plus the standard process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served.",
		}, []string{"method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration in seconds of an HTTP request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		streamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions",
			Help:      "Currently connected stream sessions.",
		}),

		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Stream messages by direction.",
		}, []string{"direction"}),

		broadcastRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "broadcast_recipients",
			Help:      "Number of sessions reached by a broadcast.",
			Buckets:   broadcastBuckets,
		}),

		statusFeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "feed_clients",
			Help:      "Currently connected status feed clients.",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.streamSessions,
		m.streamMessages,
		m.broadcastRecipients,
		m.statusFeedClients,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the exposition handler for the admin listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// StreamOpened records a new stream session.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamSessions.Inc()
}

// StreamClosed records a closed stream session.
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamSessions.Dec()
}

// StreamMessageIn records a client frame received on a stream.
func (m *Metrics) StreamMessageIn() {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues("in").Inc()
}

// StreamMessageOut records a server frame written to a stream.
func (m *Metrics) StreamMessageOut() {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues("out").Inc()
}

// ObserveBroadcast records the recipient count of one broadcast.
func (m *Metrics) ObserveBroadcast(recipients int) {
	if m == nil {
		return
	}
	m.broadcastRecipients.Observe(float64(recipients))
}

// StatusFeedOpened records a new status feed client.
func (m *Metrics) StatusFeedOpened() {
	if m == nil {
		return
	}
	m.statusFeedClients.Inc()
}

// StatusFeedClosed records a departed status feed client.
func (m *Metrics) StatusFeedClosed() {
	if m == nil {
		return
	}
	m.statusFeedClients.Dec()
}
