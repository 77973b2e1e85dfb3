package channel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKafka_SubscribeOutsideSession(t *testing.T) {
	k := NewKafka([]string{"127.0.0.1:1"}, "pricedash-test", discardLogger())

	if err := k.Subscribe("prices"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Subscribe() = %v, want ErrNotConnected", err)
	}
}

func TestKafka_UnreachableBrokerRetries(t *testing.T) {
	k := NewKafka([]string{"127.0.0.1:1", "127.0.0.1:2"}, "pricedash-test", discardLogger())
	k.reconnectDelay = 10 * time.Millisecond
	k.dialTimeout = 200 * time.Millisecond

	events := k.Connect(context.Background())

	for _, want := range []EventKind{Closed, Retrying, Closed} {
		ev := nextEvent(t, events)
		if ev.Kind != want {
			t.Fatalf("event = %s, want %s", ev.Kind, want)
		}
		if ev.Kind == Closed && ev.Err == nil {
			t.Fatal("closed event carries no error")
		}
	}

	if err := k.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	for range events {
	}
}

func TestEventKindString(t *testing.T) {
	tests := map[EventKind]string{
		Opened:        "opened",
		Closed:        "closed",
		Failed:        "failed",
		Retrying:      "retrying",
		Message:       "message",
		EventKind(99): "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}
