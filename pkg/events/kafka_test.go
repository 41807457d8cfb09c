package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{Topic: "events"})
	if err == nil {
		t.Fatal("expected error when brokers are missing")
	}

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	if err == nil {
		t.Fatal("expected error when topic is missing")
	}

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", "\t"}, Topic: "events"})
	if err == nil {
		t.Fatal("expected error when every broker is blank")
	}
}

func TestKafkaPublisherGuards(t *testing.T) {
	t.Parallel()

	var nilPub *KafkaPublisher
	if err := nilPub.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if err := nilPub.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected publish error for nil publisher")
	}

	pub := &KafkaPublisher{}
	if err := pub.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected publish error for uninitialized writer")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisherKeysByOwner(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	pub := &KafkaPublisher{writer: w}
	ev := Event{
		Type:      TypeContextActivated,
		OwnerID:   "user-1",
		Resource:  "ctx-1",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "user-1" {
		t.Fatalf("unexpected partition key: %s", string(w.msgs[0].Key))
	}
	var decoded Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Type != TypeContextActivated || decoded.Resource != "ctx-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaPublisherPropagatesWriterError(t *testing.T) {
	t.Parallel()

	pub := &KafkaPublisher{writer: &fakeKafkaWriter{err: errors.New("broker down")}}
	if err := pub.Publish(context.Background(), Event{OwnerID: "u"}); err == nil {
		t.Fatal("expected writer error")
	}
}
