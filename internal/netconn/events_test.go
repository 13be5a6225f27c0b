package netconn

import (
	"testing"
	"time"

	"pygase/internal/event"
	"pygase/internal/wire"
)

func TestDrainOutgoingRespectsMaxEventsPerPackage(t *testing.T) {
	c := newTestConnection()
	for i := 0; i < maxEventsPerPackage+3; i++ {
		c.DispatchEvent(event.New("ping", nil, nil), nil, nil)
	}

	var added int
	c.DrainOutgoing(mustSqn(t, 1), func(encoded []byte) error {
		added++
		return nil
	})

	if added != maxEventsPerPackage {
		t.Fatalf("expected exactly %d events drained, got %d", maxEventsPerPackage, added)
	}
	if remaining := c.PendingOutgoingCount(); remaining != 3 {
		t.Fatalf("expected 3 events left queued, got %d", remaining)
	}
}

func TestDrainOutgoingRequeuesOnOverflowWithoutLoss(t *testing.T) {
	c := newTestConnection()
	c.DispatchEvent(event.New("a", nil, nil), nil, nil)
	c.DispatchEvent(event.New("b", nil, nil), nil, nil)

	calls := 0
	c.DrainOutgoing(mustSqn(t, 1), func(encoded []byte) error {
		calls++
		if calls == 2 {
			return wire.ErrOverflow
		}
		return nil
	})

	if calls != 2 {
		t.Fatalf("expected drain to stop after the overflowing add, got %d calls", calls)
	}
	if remaining := c.PendingOutgoingCount(); remaining != 1 {
		t.Fatalf("expected the rejected event to stay queued, got %d pending", remaining)
	}
}

func TestNextLocalSequenceOpensPendingAckRecord(t *testing.T) {
	c := newTestConnection()
	now := time.Now()
	seq := c.NextLocalSequence(now)
	if seq != mustSqn(t, 1) {
		t.Fatalf("expected first local sequence to be 1, got %v", seq)
	}
	if c.Status() != Connecting {
		t.Fatalf("expected status Connecting after first send attempt, got %v", c.Status())
	}

	snap := c.HeaderSnapshot(seq)
	if snap.Sequence != seq {
		t.Fatalf("expected header snapshot to carry the new sequence")
	}
}

func TestDispatchedEventCallbackAttachesToSendSequence(t *testing.T) {
	c := newTestConnection()
	fired := false
	c.DispatchEvent(event.New("chat", nil, nil), func() { fired = true }, nil)

	now := time.Now()
	seq := c.NextLocalSequence(now)
	c.DrainOutgoing(seq, func([]byte) error { return nil })

	// Acking that sequence should now fire the event's ack callback.
	if err := c.HandleHeader(SeqAck{Sequence: mustSqn(t, 1), Ack: seq}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatalf("expected dispatched event's ack callback to fire once its package was acked")
	}
}

func TestDrainOutgoingSkipsNothingWhenQueueEmpty(t *testing.T) {
	c := newTestConnection()
	calls := 0
	c.DrainOutgoing(mustSqn(t, 1), func([]byte) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Fatalf("expected no calls against an empty queue, got %d", calls)
	}
}
