package mqttconverter

import (
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
)

// ToOutboundRecord builds the Kafka record for a publish and its mapping. The
// payload is copied so the record does not alias the connection's read buffer,
// and the original MQTT topic is carried in the MQTTTopicHeader header.
func ToOutboundRecord(req PublishRequest, result mapping.Result) *messagepipeline.OutboundRecord {
	payloadCopy := make([]byte, len(req.Payload))
	copy(payloadCopy, req.Payload)

	var key *string
	if result.KafkaKey != nil {
		k := *result.KafkaKey
		key = &k
	}

	return &messagepipeline.OutboundRecord{
		Topic:   result.KafkaTopic,
		Key:     key,
		Payload: payloadCopy,
		Headers: map[string]string{messagepipeline.MQTTTopicHeader: req.Topic},
	}
}
