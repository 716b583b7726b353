package mapping

// DefaultKafkaTopic is used when a mapper is built without a default topic.
const DefaultKafkaTopic = "messages_default"

// topicSeparator splits an MQTT topic into levels.
const topicSeparator = "/"

// Rule associates an MQTT topic pattern with Kafka topic and key templates.
// Rules are evaluated in the order they are supplied; the first match wins.
type Rule struct {
	// MQTTTopic is the source pattern. Its syntax depends on the mapper strategy.
	MQTTTopic string `json:"mqttTopic"`
	// KafkaTopic is the template for the destination topic.
	KafkaTopic string `json:"kafkaTopic"`
	// KafkaKey is the optional template for the record key. A nil key template
	// always produces a nil key.
	KafkaKey *string `json:"kafkaKey"`
}

// Result is the outcome of mapping a single MQTT topic.
type Result struct {
	KafkaTopic string
	// KafkaKey is nil when the matched rule has no key template or no rule matched.
	KafkaKey *string
}

// Mapper rewrites MQTT topics into Kafka topic/key pairs. Implementations are
// immutable after construction and safe for concurrent use.
type Mapper interface {
	Map(mqttTopic string) (Result, error)
}

// Key returns a pointer to k. It keeps rule literals short.
func Key(k string) *string {
	return &k
}

func defaultResult(defaultTopic string) Result {
	return Result{KafkaTopic: defaultTopic}
}

func resolveDefaultTopic(topic string) string {
	if topic == "" {
		return DefaultKafkaTopic
	}
	return topic
}
