package messagepipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// KafkaGoProducer is a RecordProducer backed by an asynchronous kafka-go Writer.
// Each record carries its completion callback in Message.WriterData, and the
// writer's Completion hook resolves it once the batch containing the record
// has been written at the configured ack level.
type KafkaGoProducer struct {
	writer *kafkago.Writer
	logger zerolog.Logger
}

// NewKafkaGoProducer creates a producer bound to a single ack level.
func NewKafkaGoProducer(cfg KafkaConfig, ackLevel AckLevel, logger zerolog.Logger) (*KafkaGoProducer, error) {
	transport, err := newKafkaGoTransport(&cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer transport: %w", err)
	}

	p := &KafkaGoProducer{
		logger: logger.With().
			Str("component", "KafkaGoProducer").
			Str("ack_level", ackLevel.String()).
			Logger(),
	}
	p.writer = &kafkago.Writer{
		Addr:      kafkago.TCP(cfg.BootstrapServers...),
		Transport: transport,
		// Hash falls back to round-robin for records without a key.
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		RequiredAcks:           kafkago.RequiredAcks(ackLevel),
		Compression:            resolveKafkaGoCompression(cfg.Compression),
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		Async:                  true,
		Completion:             p.complete,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			p.logger.Error().Msgf("writer: "+msg, args...)
		}),
	}

	p.logger.Info().
		Strs("brokers", cfg.BootstrapServers).
		Str("compression", cfg.Compression).
		Int("batch_size", cfg.BatchSize).
		Msg("Kafka producer initialized.")
	return p, nil
}

// Produce queues the record on the writer. Errors detected before the record
// is batched, such as a closed writer, are reported to onComplete immediately.
func (p *KafkaGoProducer) Produce(ctx context.Context, rec *OutboundRecord, onComplete CompletionFunc) {
	msg := kafkago.Message{
		Topic:      rec.Topic,
		Value:      rec.Payload,
		WriterData: onComplete,
	}
	if rec.Key != nil {
		msg.Key = []byte(*rec.Key)
	}
	for k, v := range rec.Headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		onComplete(newSendError(rec.Topic, err))
	}
}

func (p *KafkaGoProducer) complete(messages []kafkago.Message, err error) {
	for _, m := range messages {
		onComplete, ok := m.WriterData.(CompletionFunc)
		if !ok {
			p.logger.Warn().Str("kafka_topic", m.Topic).Msg("Completed message carried no completion callback.")
			continue
		}
		onComplete(newSendError(m.Topic, err))
	}
}

// Close flushes pending batches and closes the writer, respecting the
// context's deadline.
func (p *KafkaGoProducer) Close(ctx context.Context) error {
	stopDone := make(chan error, 1)
	go func() {
		stopDone <- p.writer.Close()
	}()

	select {
	case err := <-stopDone:
		if err != nil {
			return fmt.Errorf("closing kafka writer: %w", err)
		}
		p.logger.Info().Msg("Kafka producer closed.")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("Timed out waiting for Kafka producer to flush.")
		return ctx.Err()
	}
}

func newKafkaGoTransport(cfg *KafkaConfig) (*kafkago.Transport, error) {
	transport := &kafkago.Transport{
		ClientID:    cfg.ClientID,
		IdleTimeout: cfg.IdleTimeout,
		MetadataTTL: cfg.MetadataTTL,
	}

	if cfg.EnableTLS {
		tc, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("TLS config: %w", err)
		}
		transport.TLS = tc
	}

	if cfg.EnableSASL {
		m, err := kafkaGoSASLMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("SASL config: %w", err)
		}
		transport.SASL = m
	}

	return transport, nil
}

func kafkaGoSASLMechanism(cfg *KafkaConfig) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case SASLPlain:
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case SASLScramSHA256:
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case SASLScramSHA512:
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

func resolveKafkaGoCompression(name string) kafkago.Compression {
	switch name {
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	case "snappy":
		return kafkago.Snappy
	default:
		return 0
	}
}
