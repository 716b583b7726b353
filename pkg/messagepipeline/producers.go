package messagepipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewProducers builds the no-ack and ack-one producer handles for the
// configured driver. cfg is expected to have defaults applied and be valid.
func NewProducers(cfg KafkaConfig, logger zerolog.Logger) (noAck, ackOne RecordProducer, err error) {
	build := func(level AckLevel) (RecordProducer, error) {
		switch cfg.Driver {
		case DriverKafkaGo:
			return NewKafkaGoProducer(cfg, level, logger)
		case DriverFranz:
			return NewFranzProducer(cfg, level, logger)
		default:
			return nil, fmt.Errorf("unsupported kafka driver: %q", cfg.Driver)
		}
	}

	noAck, err = build(AckNone)
	if err != nil {
		return nil, nil, fmt.Errorf("creating no-ack producer: %w", err)
	}
	ackOne, err = build(AckLeader)
	if err != nil {
		_ = noAck.Close(context.Background())
		return nil, nil, fmt.Errorf("creating ack-one producer: %w", err)
	}
	return noAck, ackOne, nil
}
