package messagepipeline_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
)

// ====================================================================================
// This file contains fakes for the interfaces defined in this package. They are
// used by unit tests that must not reach a Kafka cluster.
// ====================================================================================

// fakeProducer records every produced record and completes sends either
// immediately or when the test calls completeAll.
type fakeProducer struct {
	mu         sync.Mutex
	records    []*messagepipeline.OutboundRecord
	pending    []messagepipeline.CompletionFunc
	sendErr    error
	manual     bool
	closeCount int
	closeErr   error
}

func (f *fakeProducer) Produce(_ context.Context, rec *messagepipeline.OutboundRecord, onComplete messagepipeline.CompletionFunc) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	if f.manual {
		f.pending = append(f.pending, onComplete)
		f.mu.Unlock()
		return
	}
	err := f.sendErr
	f.mu.Unlock()

	// Completions arrive on another goroutine, as they do with a real client.
	go onComplete(err)
}

func (f *fakeProducer) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return f.closeErr
}

// completeAll resolves every pending send with err.
func (f *fakeProducer) completeAll(err error) {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, onComplete := range pending {
		onComplete(err)
	}
}

func (f *fakeProducer) produced() []*messagepipeline.OutboundRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*messagepipeline.OutboundRecord(nil), f.records...)
}

func (f *fakeProducer) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// ackRecorder counts Ack and Nack calls on a record.
type ackRecorder struct {
	mu    sync.Mutex
	acks  int
	nacks []error
}

func (a *ackRecorder) attach(rec *messagepipeline.OutboundRecord) *messagepipeline.OutboundRecord {
	rec.Ack = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.acks++
	}
	rec.Nack = func(err error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.nacks = append(a.nacks, err)
	}
	return rec
}

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, len(a.nacks)
}

func (a *ackRecorder) lastNack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.nacks) == 0 {
		return nil
	}
	return a.nacks[len(a.nacks)-1]
}

func newRecord(topic string) *messagepipeline.OutboundRecord {
	return &messagepipeline.OutboundRecord{
		Topic:   topic,
		Payload: []byte("payload"),
		Headers: map[string]string{messagepipeline.MQTTTopicHeader: "sensors/1/data"},
	}
}
