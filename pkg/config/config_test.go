package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/config"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mqttconverter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = uuid.Parse(cfg.Bridge.ID)
	assert.NoError(t, err, "a generated bridge id should be a UUID")
	assert.Equal(t, mapping.DefaultKafkaTopic, cfg.Bridge.DefaultTopic)
	assert.Equal(t, string(mapping.StrategyPlaceholder), cfg.Bridge.MappingStrategy)
	assert.False(t, cfg.Bridge.Dedup.Enabled)
	assert.Equal(t, mqttconverter.DefaultServerConfig(), cfg.MQTT)
	assert.Equal(t, ":8080", cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, messagepipeline.DriverKafkaGo, cfg.Kafka.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.BootstrapServers)
	assert.Equal(t, cfg.Bridge.ID, cfg.Kafka.ClientID)
}

func TestLoad_File(t *testing.T) {
	// Arrange
	path := writeConfig(t, `
bridge:
  id: bridge-7
  default_topic: unmatched
  mapping_strategy: regex
  dedup:
    enabled: true
    backend: redis
    ttl: 30m
    redis:
      addr: redis:6379
mqtt:
  host: 127.0.0.1
  port: 11883
  connect_timeout: 3s
http:
  port: ":9090"
logging:
  level: debug
  format: console
kafka:
  driver: franz-go
  bootstrap_servers: ["k1:9092", "k2:9092"]
  batch_timeout: 5ms
`)

	// Act
	cfg, err := config.Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "bridge-7", cfg.Bridge.ID)
	assert.Equal(t, "unmatched", cfg.Bridge.DefaultTopic)
	assert.Equal(t, "regex", cfg.Bridge.MappingStrategy)
	assert.True(t, cfg.Bridge.Dedup.Enabled)
	assert.Equal(t, config.DedupBackendRedis, cfg.Bridge.Dedup.Backend)
	assert.Equal(t, "redis:6379", cfg.Bridge.Dedup.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Bridge.Dedup.Redis.TTL, "redis ttl follows the dedup ttl")
	assert.Equal(t, "mqtt-kafka-bridge/bridge-7/", cfg.Bridge.Dedup.Redis.KeyPrefix)
	assert.Equal(t, "127.0.0.1", cfg.MQTT.Host)
	assert.Equal(t, 11883, cfg.MQTT.Port)
	assert.Equal(t, 3*time.Second, cfg.MQTT.ConnectTimeout)
	assert.Equal(t, mqttconverter.DefaultMaxPacketSize, cfg.MQTT.MaxPacketSize, "unset fields keep their defaults")
	assert.Equal(t, ":9090", cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatConsole, cfg.Logging.Format)
	assert.Equal(t, messagepipeline.DriverFranz, cfg.Kafka.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.BootstrapServers)
	assert.Equal(t, 5*time.Millisecond, cfg.Kafka.BatchTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Arrange
	path := writeConfig(t, `
bridge:
  id: from-file
mqtt:
  port: 1884
`)
	t.Setenv("BRIDGE_ID", "from-env")
	t.Setenv("BRIDGE_DEFAULT_TOPIC", "env_default")
	t.Setenv("MQTT_PORT", "1999")
	t.Setenv("HTTP_PORT", "8181")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "a:9092, b:9092,")
	t.Setenv("KAFKA_SASL_USERNAME", "bridge")
	t.Setenv("KAFKA_SASL_PASSWORD", "s3cret")

	// Act
	cfg, err := config.Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Bridge.ID)
	assert.Equal(t, "env_default", cfg.Bridge.DefaultTopic)
	assert.Equal(t, 1999, cfg.MQTT.Port)
	assert.Equal(t, ":8181", cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.BootstrapServers)
	assert.True(t, cfg.Kafka.EnableSASL)
	assert.Equal(t, messagepipeline.SASLPlain, cfg.Kafka.SASLMechanism)
	assert.Equal(t, "bridge", cfg.Kafka.Username)
	assert.Equal(t, "s3cret", cfg.Kafka.Password)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "bridge: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("non numeric MQTT_PORT", func(t *testing.T) {
		t.Setenv("MQTT_PORT", "eighteen")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "MQTT_PORT")
	})

	t.Run("invalid BRIDGE_DEDUP_ENABLED", func(t *testing.T) {
		t.Setenv("BRIDGE_DEDUP_ENABLED", "maybe")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "BRIDGE_DEDUP_ENABLED")
	})
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *config.BridgeConfig {
		t.Helper()
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(c *config.BridgeConfig)
		wantErr string
	}{
		{"unknown strategy", func(c *config.BridgeConfig) { c.Bridge.MappingStrategy = "glob" }, "mapping_strategy"},
		{"empty default topic", func(c *config.BridgeConfig) { c.Bridge.DefaultTopic = "" }, "default_topic"},
		{"unknown dedup backend", func(c *config.BridgeConfig) {
			c.Bridge.Dedup.Enabled = true
			c.Bridge.Dedup.Backend = "etcd"
		}, "dedup.backend"},
		{"memory dedup without size", func(c *config.BridgeConfig) {
			c.Bridge.Dedup.Enabled = true
			c.Bridge.Dedup.Size = 0
		}, "dedup.size"},
		{"redis dedup without address", func(c *config.BridgeConfig) {
			c.Bridge.Dedup.Enabled = true
			c.Bridge.Dedup.Backend = config.DedupBackendRedis
		}, "redis.addr"},
		{"mqtt port out of range", func(c *config.BridgeConfig) { c.MQTT.Port = 70000 }, "mqtt.port"},
		{"oversized packet limit", func(c *config.BridgeConfig) { c.MQTT.MaxPacketSize = mqttconverter.DefaultMaxPacketSize + 1 }, "max_packet_size"},
		{"empty http port", func(c *config.BridgeConfig) { c.HTTP.Port = "" }, "http.port"},
		{"bad log level", func(c *config.BridgeConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *config.BridgeConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad kafka driver", func(c *config.BridgeConfig) { c.Kafka.Driver = "sarama" }, "kafka"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("disabled dedup is not validated", func(t *testing.T) {
		cfg := valid(t)
		cfg.Bridge.Dedup.Backend = "etcd"
		assert.NoError(t, cfg.Validate())
	})
}

func TestString_HidesPasswords(t *testing.T) {
	t.Setenv("KAFKA_SASL_USERNAME", "bridge")
	t.Setenv("KAFKA_SASL_PASSWORD", "kafka-pass")
	t.Setenv("REDIS_PASSWORD", "redis-pass")

	cfg, err := config.Load("")
	require.NoError(t, err)

	out := cfg.String()
	assert.NotContains(t, out, "kafka-pass")
	assert.NotContains(t, out, "redis-pass")
	assert.Contains(t, out, "[hidden]")
	assert.Contains(t, out, cfg.Bridge.ID)
	assert.Equal(t, "kafka-pass", cfg.Kafka.Password, "String must not modify the config")
}
