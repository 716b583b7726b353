// Package metrics holds the Prometheus collectors exported by the bridge.
// All methods are safe to call on a nil *Bridge, which disables collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt_kafka_bridge"

// Bridge groups the collectors for connections, publishes and Kafka sends.
type Bridge struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	publishesReceived *prometheus.CounterVec
	mappingErrors     prometheus.Counter
	unsupportedQoS    prometheus.Counter
	kafkaSends        *prometheus.CounterVec
	pubacksSent       prometheus.Counter
	duplicatesAcked   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_active_connections",
			Help:      "Number of MQTT connections currently open.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_connections_total",
			Help:      "Total number of accepted MQTT connections.",
		}),
		publishesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_received_total",
			Help:      "PUBLISH packets received, by QoS.",
		}, []string{"qos"}),
		mappingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_errors_total",
			Help:      "PUBLISH packets dropped because their topic could not be mapped.",
		}),
		unsupportedQoS: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_unsupported_qos_total",
			Help:      "PUBLISH packets dropped because their QoS is not supported.",
		}),
		kafkaSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_sends_total",
			Help:      "Completed Kafka sends, by ack level and result.",
		}, []string{"ack_level", "result"}),
		pubacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_pubacks_sent_total",
			Help:      "PUBACK packets written to MQTT clients.",
		}),
		duplicatesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_duplicates_acknowledged_total",
			Help:      "Retransmitted QoS 1 publishes acknowledged from the ledger without a new Kafka send.",
		}),
	}
	reg.MustRegister(
		b.activeConnections,
		b.connectionsTotal,
		b.publishesReceived,
		b.mappingErrors,
		b.unsupportedQoS,
		b.kafkaSends,
		b.pubacksSent,
		b.duplicatesAcked,
	)
	return b
}

func (b *Bridge) ConnectionOpened() {
	if b == nil {
		return
	}
	b.connectionsTotal.Inc()
	b.activeConnections.Inc()
}

func (b *Bridge) ConnectionClosed() {
	if b == nil {
		return
	}
	b.activeConnections.Dec()
}

func (b *Bridge) PublishReceived(qos string) {
	if b == nil {
		return
	}
	b.publishesReceived.WithLabelValues(qos).Inc()
}

func (b *Bridge) MappingFailed() {
	if b == nil {
		return
	}
	b.mappingErrors.Inc()
}

func (b *Bridge) UnsupportedQoS() {
	if b == nil {
		return
	}
	b.unsupportedQoS.Inc()
}

// KafkaSendCompleted counts one finished send; a nil err is a success.
func (b *Bridge) KafkaSendCompleted(ackLevel string, err error) {
	if b == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	b.kafkaSends.WithLabelValues(ackLevel, result).Inc()
}

func (b *Bridge) PubackSent() {
	if b == nil {
		return
	}
	b.pubacksSent.Inc()
}

func (b *Bridge) DuplicateAcknowledged() {
	if b == nil {
		return
	}
	b.duplicatesAcked.Inc()
}
