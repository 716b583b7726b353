package messagepipeline

import (
	"context"
)

// CompletionFunc receives the outcome of a single send. A nil error means the
// broker accepted the record at the producer's ack level. It may be called on
// any goroutine and is called exactly once per Produce.
type CompletionFunc func(err error)

// RecordProducer is a handle on a Kafka producer bound to a single ack level.
// Implementations must be safe for concurrent use.
type RecordProducer interface {
	// Produce hands the record to the producer without waiting for the broker.
	Produce(ctx context.Context, rec *OutboundRecord, onComplete CompletionFunc)
	// Close flushes outstanding sends and releases the producer, respecting
	// the context's deadline.
	Close(ctx context.Context) error
}

// RecordDispatcher routes outbound records to a producer according to QoS.
type RecordDispatcher interface {
	Dispatch(ctx context.Context, qos QoS, rec *OutboundRecord) error
}
