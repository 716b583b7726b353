package messagepipeline

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

// Supported producer drivers.
const (
	DriverKafkaGo = "kafka-go"
	DriverFranz   = "franz-go"
)

// Supported SASL mechanisms.
const (
	SASLPlain       = "PLAIN"
	SASLScramSHA256 = "SCRAM-SHA-256"
	SASLScramSHA512 = "SCRAM-SHA-512"
)

// AckLevel is the number of broker acknowledgments a producer waits for.
type AckLevel int

const (
	AckNone   AckLevel = 0
	AckLeader AckLevel = 1
)

func (a AckLevel) String() string {
	switch a {
	case AckNone:
		return "none"
	case AckLeader:
		return "leader"
	default:
		return fmt.Sprintf("acks(%d)", int(a))
	}
}

// KafkaConfig holds connection and producer settings shared by both producer
// handles. The ack level is not part of it: each handle fixes its own.
type KafkaConfig struct {
	// Driver selects the client library, DriverKafkaGo or DriverFranz.
	Driver string `yaml:"driver"`

	BootstrapServers []string `yaml:"bootstrap_servers"`
	ClientID         string   `yaml:"client_id"`

	// TLS
	EnableTLS     bool   `yaml:"enable_tls"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCAFile     string `yaml:"tls_ca_file"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`

	// SASL
	EnableSASL    bool   `yaml:"enable_sasl"`
	SASLMechanism string `yaml:"sasl_mechanism"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`

	// Producer settings
	Compression            string        `yaml:"compression"` // none, gzip, snappy, lz4, zstd
	MaxAttempts            int           `yaml:"max_attempts"`
	BatchSize              int           `yaml:"batch_size"`
	BatchTimeout           time.Duration `yaml:"batch_timeout"`
	WriteTimeout           time.Duration `yaml:"write_timeout"`
	AllowAutoTopicCreation bool          `yaml:"allow_auto_topic_creation"`

	// Connection settings
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
}

// ApplyDefaults sets defaults for zero-valued fields. The batch timeout is kept
// short because AT_LEAST_ONCE acknowledgments wait for the batch to be written.
func (c *KafkaConfig) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverKafkaGo
	}
	if len(c.BootstrapServers) == 0 {
		c.BootstrapServers = []string{"localhost:9092"}
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = 6 * time.Second
	}
	if c.SASLMechanism == "" && c.EnableSASL {
		c.SASLMechanism = SASLPlain
	}
}

// Validate checks that the configuration can be used to build producers.
func (c *KafkaConfig) Validate() error {
	switch c.Driver {
	case DriverKafkaGo, DriverFranz:
	default:
		return fmt.Errorf("unsupported kafka driver: %q", c.Driver)
	}
	if len(c.BootstrapServers) == 0 {
		return errors.New("kafka bootstrap servers are required")
	}
	for i, s := range c.BootstrapServers {
		if s == "" {
			return fmt.Errorf("kafka bootstrap server %d is empty", i)
		}
	}
	switch c.Compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unsupported compression: %q", c.Compression)
	}
	if c.EnableSASL {
		switch c.SASLMechanism {
		case SASLPlain, SASLScramSHA256, SASLScramSHA512:
		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", c.SASLMechanism)
		}
		if c.Username == "" {
			return errors.New("SASL username is required")
		}
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max_attempts must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch_size must be > 0")
	}
	return nil
}

func buildTLSConfig(cfg *KafkaConfig) (*tls.Config, error) {
	tc := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("parse CA certificate")
		}
		tc.RootCAs = pool
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}
