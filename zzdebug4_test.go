package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDebug4(t *testing.T) {
	a := newTestNode(t, nil)
	b := newTestNode(t, nil)
	connect(a, b)

	waitForPeerCount(t, a, 1)
	waitForPeerCount(t, b, 1)

	peers := a.Peers()
	recipient := peers[0].ID

	if _, err := a.SendPrivateMessage("secret", recipient); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on first send, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !a.HasSession(recipient) {
		select {
		case <-deadline:
			t.Fatalf("session with peer was never established")
		case <-time.After(10 * time.Millisecond):
		}
	}

	messageID, err := a.SendPrivateMessage("secret", recipient)
	if err != nil {
		t.Fatalf("second SendPrivateMessage failed: %v", err)
	}

	ev := waitForEvent(t, b, EventMessageReceived)
	fmt.Println("got message-received", ev.MessageID)

	ack := waitForEvent(t, a, EventDeliveryAck)
	fmt.Println("got delivery ack", ack.MessageID)

	if err := b.SendReadReceipt(ev.MessageID, ev.SenderID); err != nil {
		t.Fatalf("SendReadReceipt failed: %v", err)
	}
	fmt.Println("sent read receipt, waiting...")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-a.Events():
			fmt.Println("a got event", e.Kind)
			if e.Kind == EventReadReceipt {
				fmt.Println("GOT READ RECEIPT", e.MessageID)
				if e.MessageID != messageID {
					t.Fatalf("mismatch")
				}
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for read receipt")
		}
	}
}
