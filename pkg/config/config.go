// Package config loads the bridge configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/cache"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mqttconverter"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Dedup backends.
const (
	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

const hiddenValue = "[hidden]"

// BridgeConfig is the complete bridge configuration.
type BridgeConfig struct {
	Bridge  BridgeSettings              `yaml:"bridge"`
	MQTT    mqttconverter.ServerConfig  `yaml:"mqtt"`
	HTTP    HTTPConfig                  `yaml:"http"`
	Logging LoggingConfig               `yaml:"logging"`
	Kafka   messagepipeline.KafkaConfig `yaml:"kafka"`
}

// BridgeSettings identifies the bridge and controls topic mapping.
type BridgeSettings struct {
	// ID names this bridge instance. A random UUID is used when empty.
	ID string `yaml:"id"`
	// DefaultTopic receives messages no mapping rule matched.
	DefaultTopic string `yaml:"default_topic"`
	// MappingStrategy is "placeholder" or "regex".
	MappingStrategy string      `yaml:"mapping_strategy"`
	Dedup           DedupConfig `yaml:"dedup"`
}

// DedupConfig controls the acknowledgment ledger used to answer AT_LEAST_ONCE
// retransmissions without producing a second Kafka record.
type DedupConfig struct {
	Enabled bool              `yaml:"enabled"`
	Backend string            `yaml:"backend"`
	Size    int               `yaml:"size"`
	TTL     time.Duration     `yaml:"ttl"`
	Redis   cache.RedisConfig `yaml:"redis"`
}

// HTTPConfig holds the probe and metrics server settings.
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the configuration. Defaults are overlaid by the YAML file at
// path, when path is not empty, and then by environment variables.
func Load(path string) (*BridgeConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *BridgeConfig {
	return &BridgeConfig{
		Bridge: BridgeSettings{
			DefaultTopic:    mapping.DefaultKafkaTopic,
			MappingStrategy: string(mapping.StrategyPlaceholder),
			Dedup: DedupConfig{
				Backend: DedupBackendMemory,
				Size:    10000,
				TTL:     time.Hour,
			},
		},
		MQTT: mqttconverter.DefaultServerConfig(),
		HTTP: HTTPConfig{Port: ":8080"},
		Logging: LoggingConfig{
			Level:  zerolog.InfoLevel.String(),
			Format: LogFormatJSON,
		},
	}
}

func applyEnvOverrides(cfg *BridgeConfig) error {
	// Bridge
	if v := os.Getenv("BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("BRIDGE_DEFAULT_TOPIC"); v != "" {
		cfg.Bridge.DefaultTopic = v
	}
	if v := os.Getenv("BRIDGE_MAPPING_STRATEGY"); v != "" {
		cfg.Bridge.MappingStrategy = v
	}
	if v := os.Getenv("BRIDGE_DEDUP_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BRIDGE_DEDUP_ENABLED: %w", err)
		}
		cfg.Bridge.Dedup.Enabled = enabled
	}
	if v := os.Getenv("BRIDGE_DEDUP_BACKEND"); v != "" {
		cfg.Bridge.Dedup.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Bridge.Dedup.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Bridge.Dedup.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_PORT: %w", err)
		}
		cfg.MQTT.Port = port
	}

	// HTTP
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if !strings.Contains(v, ":") {
			v = ":" + v
		}
		cfg.HTTP.Port = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Kafka
	if v := os.Getenv("KAFKA_DRIVER"); v != "" {
		cfg.Kafka.Driver = v
	}
	if v := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		cfg.Kafka.BootstrapServers = splitList(v)
	}
	if v := os.Getenv("KAFKA_CLIENT_ID"); v != "" {
		cfg.Kafka.ClientID = v
	}
	if v := os.Getenv("KAFKA_SASL_USERNAME"); v != "" {
		cfg.Kafka.EnableSASL = true
		cfg.Kafka.Username = v
	}
	if v := os.Getenv("KAFKA_SASL_PASSWORD"); v != "" {
		cfg.Kafka.Password = v
	}
	return nil
}

// applyDefaults fills values that depend on other settings.
func (c *BridgeConfig) applyDefaults() {
	if c.Bridge.ID == "" {
		c.Bridge.ID = uuid.NewString()
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = c.Bridge.ID
	}
	if c.Bridge.Dedup.Redis.TTL <= 0 {
		c.Bridge.Dedup.Redis.TTL = c.Bridge.Dedup.TTL
	}
	if c.Bridge.Dedup.Redis.KeyPrefix == "" {
		c.Bridge.Dedup.Redis.KeyPrefix = "mqtt-kafka-bridge/" + c.Bridge.ID + "/"
	}
	c.Kafka.ApplyDefaults()
}

// Validate reports every invalid setting at once.
func (c *BridgeConfig) Validate() error {
	var errs []error

	switch mapping.Strategy(c.Bridge.MappingStrategy) {
	case mapping.StrategyPlaceholder, mapping.StrategyRegex:
	default:
		errs = append(errs, fmt.Errorf("bridge.mapping_strategy %q is not supported", c.Bridge.MappingStrategy))
	}
	if c.Bridge.DefaultTopic == "" {
		errs = append(errs, errors.New("bridge.default_topic is required"))
	}
	if c.Bridge.Dedup.Enabled {
		switch c.Bridge.Dedup.Backend {
		case DedupBackendMemory:
			if c.Bridge.Dedup.Size <= 0 {
				errs = append(errs, errors.New("bridge.dedup.size must be > 0"))
			}
		case DedupBackendRedis:
			if c.Bridge.Dedup.Redis.Addr == "" {
				errs = append(errs, errors.New("bridge.dedup.redis.addr is required for the redis backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("bridge.dedup.backend %q is not supported", c.Bridge.Dedup.Backend))
		}
	}

	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d is out of range", c.MQTT.Port))
	}
	if c.MQTT.MaxPacketSize <= 0 || c.MQTT.MaxPacketSize > mqttconverter.DefaultMaxPacketSize {
		errs = append(errs, fmt.Errorf("mqtt.max_packet_size must be between 1 and %d", mqttconverter.DefaultMaxPacketSize))
	}
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", c.Logging.Format))
	}

	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kafka: %w", err))
	}
	return errors.Join(errs...)
}

// String renders the configuration for logging with secrets replaced.
func (c *BridgeConfig) String() string {
	cp := *c
	if cp.Kafka.Password != "" {
		cp.Kafka.Password = hiddenValue
	}
	if cp.Bridge.Dedup.Redis.Password != "" {
		cp.Bridge.Dedup.Redis.Password = hiddenValue
	}
	return fmt.Sprintf("BridgeConfig(bridge=%+v, mqtt=%+v, http=%+v, logging=%+v, kafka=%+v)",
		cp.Bridge, cp.MQTT, cp.HTTP, cp.Logging, cp.Kafka)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
