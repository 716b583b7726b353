package messagepipeline

import (
	"fmt"
)

// MQTTTopicHeader carries the original MQTT topic on every outbound record.
const MQTTTopicHeader = "mqtt-topic"

// QoS is the MQTT delivery guarantee requested by a publisher.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	// ExactlyOnce is recognised only so that it can be rejected.
	ExactlyOnce QoS = 2
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "AT_MOST_ONCE"
	case AtLeastOnce:
		return "AT_LEAST_ONCE"
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	default:
		return fmt.Sprintf("QoS(%d)", byte(q))
	}
}

// OutboundRecord is the canonical representation of one Kafka record produced
// from an MQTT PUBLISH. It carries the acknowledgment handles of the source
// message so that the dispatcher can confirm or reject it once the send settles.
type OutboundRecord struct {
	// Topic is the mapped Kafka topic. It is never empty.
	Topic string

	// Key is the mapped Kafka key; nil means the record has no key.
	Key *string

	// Payload is owned by the record and is not shared with the network buffer.
	Payload []byte

	// Headers are attached to the Kafka record, e.g. MQTTTopicHeader.
	Headers map[string]string

	// Ack is called once the broker has confirmed an AtLeastOnce send.
	Ack func()

	// Nack is called when an AtLeastOnce send fails.
	Nack func(err error)
}
