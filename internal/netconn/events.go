package netconn

import (
	"sync"
	"time"

	"pygase/internal/event"
	"pygase/sqn"
)

// outgoingQueue holds events awaiting their turn to be drained into an
// outgoing package, FIFO, guarded independently from Connection's main
// mutex since draining happens on the sender's own cadence.
type outgoingQueue struct {
	mu    sync.Mutex
	items []queuedEvent
}

func (q *outgoingQueue) push(qe queuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, qe)
	q.mu.Unlock()
}

func (q *outgoingQueue) pushFront(qe queuedEvent) {
	q.mu.Lock()
	q.items = append([]queuedEvent{qe}, q.items...)
	q.mu.Unlock()
}

func (q *outgoingQueue) pop() (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedEvent{}, false
	}
	qe := q.items[0]
	q.items = q.items[1:]
	return qe, true
}

// DispatchEvent enqueues an event for delivery to the peer. ack and
// timeout, if non-nil, are mutually exclusive: at most one of the two
// fires, and only once. ack fires when the package carrying this event is
// acknowledged, timeout if it is not acknowledged within the package
// timeout window (spec §4.4, §6 dispatch_event).
func (c *Connection) DispatchEvent(ev event.Event, ack, timeout func()) {
	c.outbox.push(queuedEvent{ev: ev, ack: ack, timeout: timeout})
}

// PendingOutgoingCount reports how many events are still queued for send.
func (c *Connection) PendingOutgoingCount() int {
	c.outbox.mu.Lock()
	defer c.outbox.mu.Unlock()
	return len(c.outbox.items)
}

// DrainOutgoing consumes up to maxEventsPerPackage queued events, encoding
// each with encode and passing the result to add. If add reports overflow
// (spec §4.4: size cap exceeded), the event is pushed back to the front of
// the queue and draining stops. Events with non-nil callbacks are attached
// to seq's pending-ack record so HandleHeader/SweepTimeouts can resolve
// them later.
func (c *Connection) DrainOutgoing(seq sqn.Sqn, add func(encoded []byte) error) {
	for i := 0; i < maxEventsPerPackage; i++ {
		qe, ok := c.outbox.pop()
		if !ok {
			return
		}
		encoded, err := qe.ev.Encode()
		if err != nil {
			// malformed event payload, drop rather than stall the queue
			continue
		}
		if err := add(encoded); err != nil {
			c.outbox.pushFront(qe)
			return
		}
		if qe.ack != nil || qe.timeout != nil {
			c.attachCallbacks(seq, qe.ack, qe.timeout)
		}
	}
}

func (c *Connection) attachCallbacks(seq sqn.Sqn, ack, timeout func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pendingAcks[uint64(seq)]
	if !ok {
		return
	}
	pending.callbacks = append(pending.callbacks, &pendingCallback{ack: ack, timeout: timeout})
}

// NextLocalSequence advances the local sequence counter and opens a
// pending-ack record for it, returning the new sequence to stamp onto the
// outgoing package header.
func (c *Connection) NextLocalSequence(now time.Time) sqn.Sqn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localSequence = c.localSequence.Add(1)
	c.pendingAcks[uint64(c.localSequence)] = &pendingAck{sentAt: now}
	if c.status == Disconnected {
		c.status = Connecting
	}
	return c.localSequence
}

// HeaderSnapshot returns the current (ack, ack_bitfield) pair to stamp
// alongside seq on an outgoing package.
func (c *Connection) HeaderSnapshot(seq sqn.Sqn) SeqAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SeqAck{Sequence: seq, Ack: c.remoteSequence, AckBitfield: c.ackBitfield}
}
