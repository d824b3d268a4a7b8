package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryPublisherDeliversInOrder(t *testing.T) {
	pub := NewMemoryPublisher(4)
	ctx := context.Background()

	first := New(TypeAccountCreated)
	first.Username = "carol"
	second := New(TypeTransferCompleted)
	second.From, second.To, second.Amount = "alice", "bob", 30

	if err := pub.Publish(ctx, first); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if err := pub.Publish(ctx, second); err != nil {
		t.Fatalf("publish second: %v", err)
	}

	got := pub.Drain()
	if len(got) != 2 || got[0].Type != TypeAccountCreated || got[1].Amount != 30 {
		t.Fatalf("unexpected events: %+v", got)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pub.Publish(ctx, first); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
}

func TestMemoryPublisherHonoursContext(t *testing.T) {
	pub := NewMemoryPublisher(1)
	if err := pub.Publish(context.Background(), New(TypeAccountCreated)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pub.Publish(ctx, New(TypeAccountCreated)); err == nil {
		t.Fatalf("expected full channel to time out")
	}
}

func TestEventEncode(t *testing.T) {
	ev := New(TypeTransferCompleted)
	ev.From, ev.To, ev.Amount, ev.Balance = "alice", "bob", 30, 70
	body, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "transfer.completed" || decoded["from"] != "alice" || decoded["id"] == "" {
		t.Fatalf("unexpected payload: %s", body)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	pub, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("open nop: %v", err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", pub)
	}
	if _, err := Open(context.Background(), Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Config{Driver: "redis"}); err == nil {
		t.Fatalf("expected error for redis without address")
	}
}
