package source

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arkflow/trackproc"
)

func TestKafkaIterator_Next_DecodesBufferedRecordWithoutPolling(t *testing.T) {
	it := &kafkaIterator{
		decode: func(r *kgo.Record) (any, string, error) {
			return string(r.Value), "route-" + string(r.Key), nil
		},
		pending: []*kgo.Record{
			{Offset: 41, Key: []byte("k1"), Value: []byte("v1")},
			{Offset: 42, Key: []byte("k2"), Value: []byte("v2")},
		},
	}

	ev, ok, err := it.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next() = (_, %v, %v); want (_, true, nil)", ok, err)
	}
	if ev.Event.Payload() != "v1" {
		t.Fatalf("Payload = %v; want %q", ev.Event.Payload(), "v1")
	}
	if ev.Event.RoutingKey() != "route-k1" {
		t.Fatalf("RoutingKey = %q; want %q", ev.Event.RoutingKey(), "route-k1")
	}
	if ev.Event.Token() != trackproc.GlobalSequenceToken(42) {
		t.Fatalf("Token = %v; want Gs(42) (offset+1)", ev.Event.Token())
	}
	if len(it.pending) != 1 {
		t.Fatalf("expected one record left buffered, got %d", len(it.pending))
	}
}

func TestKafkaIterator_Next_DecodeErrorWrapsSourceFailure(t *testing.T) {
	cause := errors.New("bad payload")
	it := &kafkaIterator{
		decode: func(r *kgo.Record) (any, string, error) { return nil, "", cause },
		pending: []*kgo.Record{
			{Offset: 1},
		},
	}

	_, ok, err := it.Next(context.Background())
	if ok {
		t.Fatal("expected ok=false on decode failure")
	}
	if !errors.Is(err, trackproc.ErrSourceFailure) {
		t.Fatalf("expected error wrapping ErrSourceFailure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to satisfy errors.Is(cause), got %v", err)
	}
}

func TestNewKafka_ConstructsWithGivenFields(t *testing.T) {
	decode := func(*kgo.Record) (any, string, error) { return nil, "", nil }
	k := NewKafka([]string{"broker:9092"}, "orders", 3, decode)
	if k.topic != "orders" || k.partition != 3 || len(k.brokers) != 1 {
		t.Fatalf("unexpected Kafka fields: %+v", k)
	}
}
