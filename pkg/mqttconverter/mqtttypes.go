package mqttconverter

import (
	"time"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/mochi-mqtt/server/v2/packets"
)

// PublishRequest is a decoded MQTT PUBLISH as seen by the bridge.
type PublishRequest struct {
	Topic     string
	Payload   []byte
	QoS       messagepipeline.QoS
	PacketID  uint16
	Duplicate bool
	Retain    bool
}

// NewPublishRequest extracts the fields of a PUBLISH packet. The payload still
// aliases the packet buffer.
func NewPublishRequest(pk *packets.Packet) PublishRequest {
	return PublishRequest{
		Topic:     pk.TopicName,
		Payload:   pk.Payload,
		QoS:       messagepipeline.QoS(pk.FixedHeader.Qos),
		PacketID:  pk.PacketID,
		Duplicate: pk.FixedHeader.Dup,
		Retain:    pk.FixedHeader.Retain,
	}
}

// ServerConfig holds the MQTT listener settings.
type ServerConfig struct {
	// Host is the interface to bind, e.g. "0.0.0.0".
	Host string `yaml:"host"`
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int `yaml:"port"`
	// MaxPacketSize bounds the remaining length of any inbound packet.
	MaxPacketSize int `yaml:"max_packet_size"`
	// ConnectTimeout is how long a new connection may stay silent before CONNECT.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// WriteTimeout bounds every write to a client, including PUBACKs issued
	// from Kafka completion callbacks.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultServerConfig returns the listener settings used when none are given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           1883,
		MaxPacketSize:  DefaultMaxPacketSize,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// sessionConfig returns the per-connection subset of the listener settings.
func (c ServerConfig) sessionConfig() SessionConfig {
	return SessionConfig{
		MaxPacketSize:  c.MaxPacketSize,
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}
