package bounded

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSendDropNewNeverExceedsCapacity(t *testing.T) {
	ch := New[int](4, DropNew)

	accepted := 0
	for i := 0; i < 100; i++ {
		if ch.Send(i) {
			accepted++
		}
		if ch.Len() > ch.Cap() {
			t.Fatalf("channel length %d exceeds capacity %d", ch.Len(), ch.Cap())
		}
	}

	if accepted != 4 {
		t.Errorf("Expected 4 accepted sends, got %d", accepted)
	}
	stats := ch.Stats()
	if stats.Sent != 4 || stats.Dropped != 96 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	// Drop-new keeps the oldest items.
	for want := 0; want < 4; want++ {
		got, ok := ch.TryReceive()
		if !ok || got != want {
			t.Fatalf("Expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if _, ok := ch.TryReceive(); ok {
		t.Error("Expected empty channel")
	}
}

func TestSendDropOldestKeepsNewest(t *testing.T) {
	ch := New[int](3, DropOldest)
	for i := 0; i < 10; i++ {
		if !ch.Send(i) {
			t.Fatalf("drop-oldest Send(%d) returned false", i)
		}
	}

	for _, want := range []int{7, 8, 9} {
		got, ok := ch.TryReceive()
		if !ok || got != want {
			t.Fatalf("Expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if ch.Stats().Dropped != 7 {
		t.Errorf("Expected 7 drops, got %d", ch.Stats().Dropped)
	}
}

func TestSendDoesNotBlockUnderContention(t *testing.T) {
	ch := New[int](4, DropNew)
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 1000; i++ {
					ch.Send(i)
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked with no consumer")
	}
	if ch.Len() != 4 {
		t.Errorf("Expected full channel, got %d", ch.Len())
	}
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	ch := New[string](2, DropNew)
	got := make(chan string, 1)

	go func() {
		v, err := ch.Receive(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Receive returned before any Send")
	case <-time.After(20 * time.Millisecond):
	}

	ch.Send("frame")
	select {
	case v := <-got:
		if v != "frame" {
			t.Errorf("Expected 'frame', got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up after Send")
	}
}

func TestReceiveHonoursCancellation(t *testing.T) {
	ch := New[int](1, DropNew)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := ch.Receive(ctx); err == nil {
		t.Fatal("Expected context error from Receive on empty channel")
	}
}

func TestDrain(t *testing.T) {
	ch := New[int](4, DropNew)
	ch.Send(1)
	ch.Send(2)
	if n := ch.Drain(); n != 2 {
		t.Errorf("Expected 2 drained, got %d", n)
	}
	if ch.Len() != 0 {
		t.Errorf("Expected empty after drain, got %d", ch.Len())
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("drop-oldest") != DropOldest {
		t.Error("Expected drop-oldest")
	}
	if ParsePolicy("anything") != DropNew {
		t.Error("Expected drop-new fallback")
	}
}
