package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/metrics"
	"github.com/rs/zerolog"
)

// Dispatcher routes outbound records to one of two long-lived producers: one
// that requires no broker acknowledgment, used for AtMostOnce, and one that
// waits for the partition leader, used for AtLeastOnce.
//
// Sends are detached from the caller's cancellation and carry no timeout. The
// outcome of an AtLeastOnce send is reported through the record's Ack or Nack
// handle, which may run on any goroutine.
type Dispatcher struct {
	noAck   RecordProducer
	ackOne  RecordProducer
	metrics *metrics.Bridge
	logger  zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewDispatcher creates a dispatcher over the two producer handles. The metrics
// collector may be nil.
func NewDispatcher(noAck, ackOne RecordProducer, m *metrics.Bridge, logger zerolog.Logger) (*Dispatcher, error) {
	if noAck == nil {
		return nil, errors.New("no-ack producer cannot be nil")
	}
	if ackOne == nil {
		return nil, errors.New("ack-one producer cannot be nil")
	}
	return &Dispatcher{
		noAck:   noAck,
		ackOne:  ackOne,
		metrics: m,
		logger:  logger.With().Str("component", "Dispatcher").Logger(),
	}, nil
}

// Dispatch hands rec to the producer matching qos and returns without waiting
// for the broker. ExactlyOnce, and any unknown level, is rejected with
// ErrUnsupportedQoS and no producer is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, qos QoS, rec *OutboundRecord) error {
	if rec == nil {
		return errors.New("outbound record cannot be nil")
	}
	sendCtx := context.WithoutCancel(ctx)

	switch qos {
	case AtMostOnce:
		d.noAck.Produce(sendCtx, rec, func(err error) {
			d.metrics.KafkaSendCompleted(AckNone.String(), err)
			if err != nil {
				d.logger.Error().Err(err).Str("kafka_topic", rec.Topic).Msg("Failed to send AT_MOST_ONCE record to Kafka.")
				return
			}
			d.logger.Debug().Str("kafka_topic", rec.Topic).Msg("AT_MOST_ONCE record sent to Kafka.")
		})
		return nil

	case AtLeastOnce:
		d.ackOne.Produce(sendCtx, rec, func(err error) {
			d.metrics.KafkaSendCompleted(AckLeader.String(), err)
			if err != nil {
				d.logger.Error().Err(err).Str("kafka_topic", rec.Topic).Msg("Failed to send AT_LEAST_ONCE record to Kafka, withholding acknowledgment.")
				if rec.Nack != nil {
					rec.Nack(newSendError(rec.Topic, err))
				}
				return
			}
			d.logger.Debug().Str("kafka_topic", rec.Topic).Msg("AT_LEAST_ONCE record acknowledged by Kafka.")
			if rec.Ack != nil {
				rec.Ack()
			}
		})
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedQoS, qos)
	}
}

// Close flushes and closes both producers. Only the first call does any work;
// later calls return the first result.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.logger.Info().Msg("Closing Kafka producers.")
		var errs []error
		if err := d.noAck.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing no-ack producer: %w", err))
		}
		if err := d.ackOne.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing ack-one producer: %w", err))
		}
		d.closeErr = errors.Join(errs...)
		if d.closeErr != nil {
			d.logger.Error().Err(d.closeErr).Msg("Kafka producers did not close cleanly.")
			return
		}
		d.logger.Info().Msg("Kafka producers closed.")
	})
	return d.closeErr
}
