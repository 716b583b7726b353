package messagepipeline

import (
	"errors"
	"fmt"
)

// ErrUnsupportedQoS is returned by Dispatch for QoS levels the bridge does not handle.
var ErrUnsupportedQoS = errors.New("QoS level not supported")

// SendError reports a failed Kafka send for a single record.
type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send record to Kafka topic %q: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func newSendError(topic string, err error) error {
	if err == nil {
		return nil
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return err
	}
	return &SendError{Topic: topic, Err: err}
}
