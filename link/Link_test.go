package link

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestPipePairDelivers(t *testing.T) {
	a, b := NewPipePair("a", "b")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestPipeCloseUnblocksReceive(t *testing.T) {
	a, b := NewPipePair("a", "b")
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Receive did not unblock after Close")
	}
}
