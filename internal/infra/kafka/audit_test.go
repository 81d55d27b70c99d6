package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
	closed bool
}

func newFakeAsyncProducer(buffer int) *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, buffer),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, async *fakeAsyncProducer, buffer int) *AuditPublisher {
	t.Helper()
	producer := newProducer(async, config.KafkaSettings{TopicPrefix: "authcore"}, zaptest.NewLogger(t))
	return NewAuditPublisher(producer, config.AppSettings{Name: "authcore", Env: "test"}, buffer, zaptest.NewLogger(t))
}

func TestAuditPublisherEnvelope(t *testing.T) {
	async := newFakeAsyncProducer(4)
	publisher := newTestPublisher(t, async, 4)
	t.Cleanup(func() { _ = publisher.Close() })

	occurredAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	publisher.Emit(context.Background(), domain.AuditEvent{
		EventID:    "event-123",
		Type:       domain.AuditRefreshReplayed,
		UserID:     "user-789",
		SessionID:  "session-456",
		IP:         "10.0.0.1",
		OccurredAt: occurredAt,
		Metadata:   map[string]any{"generation": 3},
	})

	select {
	case msg := <-async.input:
		if msg.Topic != "authcore.auth.audit" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		key, err := msg.Key.Encode()
		if err != nil {
			t.Fatalf("Key.Encode returned error: %v", err)
		}
		if string(key) != "user-789" {
			t.Fatalf("unexpected key: %s", key)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != domain.AuditRefreshReplayed {
			t.Fatalf("unexpected headers: %+v", msg.Headers)
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}

		if got := envelope["event_id"]; got != "event-123" {
			t.Fatalf("unexpected event_id: %v", got)
		}
		if got := envelope["event_type"]; got != domain.AuditRefreshReplayed {
			t.Fatalf("unexpected event_type: %v", got)
		}
		if got := envelope["session_id"]; got != "session-456" {
			t.Fatalf("unexpected session_id: %v", got)
		}
		if got := envelope["timestamp"]; got != occurredAt.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected timestamp: %v", got)
		}

		attributes, ok := envelope["attributes"].(map[string]any)
		if !ok || attributes["generation"] != float64(3) {
			t.Fatalf("attributes did not round-trip: %v", envelope["attributes"])
		}

		metadata, ok := envelope["metadata"].(map[string]any)
		if !ok {
			t.Fatalf("metadata not a map: %T", envelope["metadata"])
		}
		if metadata["service"] != "authcore" || metadata["environment"] != "test" {
			t.Fatalf("unexpected metadata: %v", metadata)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
}

func TestAuditPublisherDropsWhenBufferFull(t *testing.T) {
	// The producer input is unbuffered and never read, so the forwarder blocks on the first event.
	async := newFakeAsyncProducer(0)
	publisher := newTestPublisher(t, async, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			publisher.Emit(context.Background(), domain.AuditEvent{Type: domain.AuditLogin, UserID: "user-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	if publisher.Dropped() == 0 {
		t.Fatal("expected some events to be dropped")
	}

	// Unblock the forwarder so Close can drain.
	go func() {
		for range async.input {
		}
	}()
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !async.closed {
		t.Fatal("expected producer to be closed")
	}

	publisher.Emit(context.Background(), domain.AuditEvent{Type: domain.AuditLogin})
}

func TestAuditPublisherGeneratesEventID(t *testing.T) {
	async := newFakeAsyncProducer(1)
	publisher := newTestPublisher(t, async, 1)
	t.Cleanup(func() { _ = publisher.Close() })

	publisher.Emit(context.Background(), domain.AuditEvent{Type: domain.AuditLogin, UserID: "user-1"})

	select {
	case msg := <-async.input:
		raw, _ := msg.Value.Encode()
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		if id, _ := envelope["event_id"].(string); id == "" {
			t.Fatal("expected generated event id")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestStubAuditSinkDoesNotPanic(t *testing.T) {
	sink := NewStubAuditSink(zaptest.NewLogger(t))
	sink.Emit(context.Background(), domain.AuditEvent{Type: domain.AuditLogin, UserID: "user-1"})
}
