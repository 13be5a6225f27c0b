// Package netconn implements the per-peer reliability core shared by
// client and server connections: ack resolution, RTT measurement,
// congestion state, and the event queues that sit on top of unreliable
// datagrams (spec §4.4–§4.5, §4.9–§4.10).
package netconn

import (
	"errors"
	"net"
	"sync"
	"time"

	"pygase/internal/event"
	"pygase/internal/logging"
	"pygase/internal/metrics"
	"pygase/sqn"
)

// ErrDuplicateSequence reports that a sequence number has already been
// recorded; the caller must drop the datagram without altering state.
var ErrDuplicateSequence = errors.New("netconn: duplicate sequence")

// Status is the connection lifecycle state (spec §3 Connection state).
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// DefaultTimeout is how long without receipt before a connection is
	// considered Disconnected.
	DefaultTimeout = 5 * time.Second
	// DefaultPackageTimeout governs when an unacknowledged event's
	// timeout callback fires.
	DefaultPackageTimeout = 1 * time.Second
	// maxEventsPerPackage bounds how many queued events a single send
	// drains into one package.
	maxEventsPerPackage = 5
)

// Transport abstracts the underlying UDP send path so a Connection does
// not need to know whether it owns a dedicated socket (client) or shares
// one demultiplexed by source address (server).
type Transport interface {
	Send(addr *net.UDPAddr, data []byte) error
}

type pendingCallback struct {
	ack     func()
	timeout func()
	fired   bool
}

type pendingAck struct {
	sentAt    time.Time
	callbacks []*pendingCallback
}

type queuedEvent struct {
	ev      event.Event
	ack     func()
	timeout func()
}

// Connection is the per-peer reliability state machine. It is safe for
// concurrent use by the sender, receiver, and congestion-supervisor
// goroutines that drive it.
type Connection struct {
	mu sync.Mutex

	remoteAddr *net.UDPAddr
	transport  Transport
	clock      func() time.Time

	status Status

	localSequence  sqn.Sqn
	remoteSequence sqn.Sqn
	ackBitfield    uint32

	lastRecvTime   time.Time
	timeout        time.Duration
	packageTimeout time.Duration

	pendingAcks map[uint64]*pendingAck

	timedOut     chan struct{}
	timedOutOnce sync.Once

	outbox   outgoingQueue
	handlers *event.Registry

	congestion congestionState

	logger  *logging.Logger
	metrics *metrics.ConnectionMetrics
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Connection) { c.clock = clock }
}

// WithTimeout overrides the connection liveness timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Connection) { c.timeout = d }
}

// WithPackageTimeout overrides the per-event ack/timeout window.
func WithPackageTimeout(d time.Duration) Option {
	return func(c *Connection) { c.packageTimeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithMetrics attaches a passive metrics observer.
func WithMetrics(m *metrics.ConnectionMetrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// New constructs a Connection in the initial Disconnected state.
func New(remoteAddr *net.UDPAddr, transport Transport, opts ...Option) *Connection {
	c := &Connection{
		remoteAddr:     remoteAddr,
		transport:      transport,
		clock:          time.Now,
		status:         Disconnected,
		timeout:        DefaultTimeout,
		packageTimeout: DefaultPackageTimeout,
		pendingAcks:    make(map[uint64]*pendingAck),
		timedOut:       make(chan struct{}),
		handlers:       event.NewRegistry(),
		congestion:     newCongestionState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics returns the attached metrics observer, or nil if none was
// configured via WithMetrics.
func (c *Connection) Metrics() *metrics.ConnectionMetrics { return c.metrics }

// recordDrop increments the drop counter for reason if metrics are
// attached; it is a no-op otherwise.
func (c *Connection) recordDrop(reason string) {
	if c.metrics != nil {
		c.metrics.ObserveDrop(reason)
	}
}

// RemoteAddr returns the peer address this connection is bound to.
func (c *Connection) RemoteAddr() *net.UDPAddr { return c.remoteAddr }

// Status reports the current lifecycle status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Handlers returns the registry for incoming events on this connection.
func (c *Connection) Handlers() *event.Registry { return c.handlers }

// RemoteSequence returns the highest sequence number received so far.
func (c *Connection) RemoteSequence() sqn.Sqn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSequence
}

// AckBitfield returns the current 32-bit selective-ack bitfield.
func (c *Connection) AckBitfield() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackBitfield
}

// CheckTimeout transitions the connection to Disconnected if it has not
// received anything within the configured timeout. It reports whether the
// connection is (now, or already was) Disconnected. The first transition
// triggered by genuine silence (not the initial bootstrap state) closes
// the channel RunSendLoop watches to exit (spec §5: "timeout... exits the
// sender loop").
func (c *Connection) CheckTimeout(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Disconnected {
		return true
	}
	if !c.lastRecvTime.IsZero() && now.Sub(c.lastRecvTime) > c.timeout {
		c.status = Disconnected
		c.timedOutOnce.Do(func() { close(c.timedOut) })
		return true
	}
	return false
}

// touchReceived records that a datagram arrived and promotes the
// connection out of Disconnected/Connecting.
func (c *Connection) touchReceived(now time.Time) {
	c.lastRecvTime = now
	c.status = Connected
}

// resetTimeoutGate re-arms the channel RunSendLoop watches to exit on
// timeout, so a connection that was driven to Disconnected by genuine
// silence can be restarted (spec §4.11 step 4's reconnect branch).
func (c *Connection) resetTimeoutGate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.timedOut:
		c.timedOut = make(chan struct{})
		c.timedOutOnce = sync.Once{}
	default:
	}
}

// HandleHeader performs the remote bookkeeping and local ack-resolution
// steps of spec §4.4 for a well-formed peer datagram header. Every call
// that is not rejected as a duplicate uses the header's ack/bitfield to
// resolve pending local sends.
func (c *Connection) HandleHeader(h SeqAck, now time.Time) error {
	c.mu.Lock()
	if c.status != Connected {
		c.status = Connected
	}
	c.lastRecvTime = now

	if err := c.applyRemoteSequenceLocked(h.Sequence); err != nil {
		c.mu.Unlock()
		return err
	}

	resolved := c.resolveAcksLocked(h.Ack, h.AckBitfield, now)
	c.mu.Unlock()

	for _, cb := range resolved {
		cb()
	}
	return nil
}

// SeqAck carries just the header fields HandleHeader needs, decoupling
// netconn from the wire package's concrete Header type.
type SeqAck struct {
	Sequence    sqn.Sqn
	Ack         sqn.Sqn
	AckBitfield uint32
}

// applyRemoteSequenceLocked implements spec §4.4 step 2. Caller holds mu.
func (c *Connection) applyRemoteSequenceLocked(seq sqn.Sqn) error {
	if c.remoteSequence == sqn.Zero {
		c.remoteSequence = seq
		c.ackBitfield = 0
		return nil
	}
	d := c.remoteSequence.Sub(seq)
	switch {
	case d < 0:
		absD := uint(-d)
		var shifted uint64
		if absD < 64 {
			shifted = uint64(c.ackBitfield) << absD
		}
		if absD >= 1 && absD <= 32 {
			shifted |= uint64(1) << (absD - 1)
		}
		c.ackBitfield = uint32(shifted & 0xffffffff)
		c.remoteSequence = seq
		return nil
	case d == 0:
		return ErrDuplicateSequence
	case d > 0 && d <= 32:
		bit := uint(d - 1)
		if c.ackBitfield&(1<<bit) != 0 {
			return ErrDuplicateSequence
		}
		c.ackBitfield |= 1 << bit
		return nil
	default:
		// d > 32: out-of-window, silently dropped per spec §9 Open
		// Question 2.
		return nil
	}
}

// resolveAcksLocked implements spec §4.4 step 3, returning the ack
// callbacks to invoke outside the lock. Caller holds mu.
func (c *Connection) resolveAcksLocked(ack sqn.Sqn, bits uint32, now time.Time) []func() {
	var toFire []func()
	for seqVal, pending := range c.pendingAcks {
		s := sqn.Sqn(seqVal)
		d := ack.Sub(s)
		acked := d == 0 || (d > 0 && d < 32 && bits&(1<<uint(d-1)) != 0)
		if !acked {
			continue
		}
		sample := now.Sub(pending.sentAt)
		c.congestion.observeLatency(sample)
		c.metrics.ObserveLatency(sample)
		for _, cb := range pending.callbacks {
			if cb.fired {
				continue
			}
			cb.fired = true
			if cb.ack != nil {
				toFire = append(toFire, cb.ack)
			}
		}
		delete(c.pendingAcks, seqVal)
	}
	return toFire
}

// SweepTimeouts fires the timeout callback of every pending send whose
// packageTimeout has elapsed without being acked, then forgets it.
func (c *Connection) SweepTimeouts(now time.Time) {
	c.mu.Lock()
	var toFire []func()
	for seqVal, pending := range c.pendingAcks {
		if now.Sub(pending.sentAt) <= c.packageTimeout {
			continue
		}
		for _, cb := range pending.callbacks {
			if cb.fired {
				continue
			}
			cb.fired = true
			if cb.timeout != nil {
				toFire = append(toFire, cb.timeout)
			}
		}
		delete(c.pendingAcks, seqVal)
	}
	c.mu.Unlock()
	for _, cb := range toFire {
		cb()
	}
}
