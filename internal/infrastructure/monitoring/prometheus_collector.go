package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomrelay"

// PrometheusCollector exports signaling metrics. It satisfies
// ports.MetricsRecorder.
type PrometheusCollector struct {
	activeConnections prometheus.Gauge
	connectionEvents  *prometheus.CounterVec

	roomsActive  prometheus.Gauge
	roomsCreated prometheus.Counter

	admissions *prometheus.CounterVec

	relays          *prometheus.CounterVec
	fanoutDelivered *prometheus.CounterVec
	fanoutDropped   *prometheus.CounterVec

	storeOperations *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec

	errors *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors with reg. Passing nil
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered signaling connections",
		}),
		connectionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection lifecycle events",
		}, []string{"event"}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms created and not yet closed by this process",
		}),
		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created",
		}),

		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Join request outcomes",
		}, []string{"outcome"}),

		relays: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Point-to-point relay attempts",
		}, []string{"kind", "delivered"}),
		fanoutDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_delivered_total",
			Help:      "Fan-out deliveries to room members",
		}, []string{"kind"}),
		fanoutDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Fan-out deliveries dropped by closed or saturated connections",
		}, []string{"kind"}),

		storeOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Room store operations",
		}, []string{"op", "result"}),
		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Room store operation latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"op"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to clients",
		}, []string{"component", "code"}),
	}
}

func (p *PrometheusCollector) SetActiveConnections(n int) {
	p.activeConnections.Set(float64(n))
}

func (p *PrometheusCollector) RecordConnection(event string) {
	p.connectionEvents.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) RecordRoomCreated() {
	p.roomsCreated.Inc()
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed() {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) RecordAdmission(outcome string) {
	p.admissions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordRelay(kind string, delivered bool) {
	p.relays.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

func (p *PrometheusCollector) RecordFanout(kind string, delivered, dropped int) {
	if delivered > 0 {
		p.fanoutDelivered.WithLabelValues(kind).Add(float64(delivered))
	}
	if dropped > 0 {
		p.fanoutDropped.WithLabelValues(kind).Add(float64(dropped))
	}
}

func (p *PrometheusCollector) RecordStoreOperation(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.storeOperations.WithLabelValues(op, result).Inc()
	p.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordError(component, code string) {
	p.errors.WithLabelValues(component, code).Inc()
}
