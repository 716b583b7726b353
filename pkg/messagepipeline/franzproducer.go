package messagepipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// FranzProducer is a RecordProducer backed by a franz-go client. Every record
// is produced with its own promise, which resolves the completion callback.
type FranzProducer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewFranzProducer creates a producer bound to a single ack level.
// Idempotent writes are disabled because they require acks from all replicas.
func NewFranzProducer(cfg KafkaConfig, ackLevel AckLevel, logger zerolog.Logger) (*FranzProducer, error) {
	opts, err := franzOptions(&cfg, ackLevel)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	p := &FranzProducer{
		client: client,
		logger: logger.With().
			Str("component", "FranzProducer").
			Str("ack_level", ackLevel.String()).
			Logger(),
	}
	p.logger.Info().
		Strs("brokers", cfg.BootstrapServers).
		Str("compression", cfg.Compression).
		Msg("Kafka producer initialized.")
	return p, nil
}

// Produce buffers the record in the client. The promise runs on a client
// goroutine once the broker has answered, or immediately on a closed client.
func (p *FranzProducer) Produce(ctx context.Context, rec *OutboundRecord, onComplete CompletionFunc) {
	record := &kgo.Record{
		Topic: rec.Topic,
		Value: rec.Payload,
	}
	if rec.Key != nil {
		record.Key = []byte(*rec.Key)
	}
	for k, v := range rec.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		onComplete(newSendError(rec.Topic, err))
	})
}

// Close flushes buffered records and closes the client. If the context expires
// first, the client is closed anyway and outstanding promises fail.
func (p *FranzProducer) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		p.logger.Warn().Err(err).Msg("Kafka producer closed before all records were flushed.")
		return fmt.Errorf("flushing kafka client: %w", err)
	}
	p.logger.Info().Msg("Kafka producer closed.")
	return nil
}

func franzOptions(cfg *KafkaConfig, ackLevel AckLevel) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.DisableIdempotentWrite(),
		kgo.ProducerLinger(cfg.BatchTimeout),
		kgo.ProduceRequestTimeout(cfg.WriteTimeout),
		kgo.RecordRetries(cfg.MaxAttempts),
		kgo.ProducerBatchCompression(resolveFranzCompression(cfg.Compression)),
		kgo.ConnIdleTimeout(cfg.IdleTimeout),
		kgo.MetadataMaxAge(cfg.MetadataTTL),
	}

	switch ackLevel {
	case AckNone:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()))
	case AckLeader:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()))
	default:
		return nil, fmt.Errorf("unsupported ack level: %s", ackLevel)
	}

	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	if cfg.EnableTLS {
		tc, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("TLS config: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tc))
	}

	if cfg.EnableSASL {
		m, err := franzSASLMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("SASL config: %w", err)
		}
		opts = append(opts, kgo.SASL(m))
	}

	return opts, nil
}

func franzSASLMechanism(cfg *KafkaConfig) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case SASLPlain:
		return plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism(), nil
	case SASLScramSHA256:
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case SASLScramSHA512:
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

func resolveFranzCompression(name string) kgo.CompressionCodec {
	switch name {
	case "gzip":
		return kgo.GzipCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "zstd":
		return kgo.ZstdCompression()
	case "snappy":
		return kgo.SnappyCompression()
	default:
		return kgo.NoCompression()
	}
}
