package realtime

import (
	"context"
	"errors"
	"testing"
)

func TestRelayAcquireNeedsClient(t *testing.T) {
	relay := NewRelay()
	if _, err := relay.Acquire(context.Background()); !errors.Is(err, ErrNoAudioClient) {
		t.Fatalf("expected ErrNoAudioClient, got %v", err)
	}

	detach := relay.Attach()
	detach()
	detach()
	if relay.Clients() != 0 {
		t.Fatalf("clients = %d after detach", relay.Clients())
	}
	if _, err := relay.Acquire(context.Background()); !errors.Is(err, ErrNoAudioClient) {
		t.Fatalf("expected ErrNoAudioClient after detach, got %v", err)
	}
}

func TestRelaySingleCapture(t *testing.T) {
	relay := NewRelay()
	defer relay.Attach()()

	src, err := relay.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := relay.Acquire(context.Background()); !errors.Is(err, ErrCaptureBusy) {
		t.Fatalf("expected ErrCaptureBusy, got %v", err)
	}

	relay.Push([]byte("a"))
	if frame := <-src.Frames(); string(frame) != "a" {
		t.Fatalf("frame = %q", frame)
	}

	src.Stop()
	src.Stop()
	if _, ok := <-src.Frames(); ok {
		t.Fatal("frames channel still open after stop")
	}
	if relay.Push([]byte("b")) {
		t.Fatal("push accepted with no active capture")
	}

	next, err := relay.Acquire(context.Background())
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	next.Stop()
}

func TestRelayDropsWhenFull(t *testing.T) {
	relay := NewRelay()
	defer relay.Attach()()
	src, err := relay.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer src.Stop()

	for i := 0; i < relayBuffer+3; i++ {
		relay.Push([]byte{byte(i)})
	}
	if relay.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", relay.Dropped())
	}
}

func TestRelayAcquireHonorsContext(t *testing.T) {
	relay := NewRelay()
	defer relay.Attach()()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := relay.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
