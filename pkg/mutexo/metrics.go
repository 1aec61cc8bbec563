package mutexo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счётчики клиента. Nil-значение допустимо и ничего не пишет.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	invalidMessages  prometheus.Counter
	requests         *prometheus.CounterVec
	pendingRequests  prometheus.Gauge
	requestDuration  *prometheus.HistogramVec
	destroyed        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of decoded messages received by kind",
		}, []string{"kind"}),

		invalidMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_messages_total",
			Help:      "Total number of dropped frames that failed to decode",
		}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of correlated requests by operation and outcome",
		}, []string{"op", "outcome"}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests waiting for a reply",
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Correlated request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		destroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_destroyed_total",
			Help:      "Total number of clients that reached the destroyed state",
		}),
	}
}

func (m *Metrics) messageReceived(kind EventKind) {
	if m == nil {
		return
	}

	m.messagesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) invalidMessage() {
	if m == nil {
		return
	}

	m.invalidMessages.Inc()
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}

	m.pendingRequests.Inc()
}

func (m *Metrics) requestFinished() {
	if m == nil {
		return
	}

	m.pendingRequests.Dec()
}

func (m *Metrics) observeRequest(op, outcome string, start time.Time) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(op, outcome).Inc()
	m.requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) clientDestroyed() {
	if m == nil {
		return
	}

	m.destroyed.Inc()
}
