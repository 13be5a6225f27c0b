// Package client implements the public PyGaSe client facade (spec §6): a
// thin, synchronous wrapper around internal/netconn.ClientConnection that
// adds the game-loop-friendly helpers (wait_until, try_to) the protocol's
// API shape specifies.
package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/logging"
	"pygase/internal/metrics"
	"pygase/internal/netconn"
)

// ErrNotConnected reports an operation attempted before Connect, or after
// Disconnect.
var ErrNotConnected = errors.New("client: not connected")

// ErrTimeout reports that WaitUntil or TryTo gave up before its predicate
// or accessor succeeded.
var ErrTimeout = errors.New("client: timed out")

// Client is the application-facing handle to a PyGaSe session. The zero
// value is ready to Connect; it is not safe for concurrent use from more
// than one goroutine beyond the background loops Connect itself starts.
type Client struct {
	logger  *logging.Logger
	metrics *metrics.ConnectionMetrics

	conn *netconn.ClientConnection
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger attaches a structured logger to the client and its
// underlying connection.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches a passive metrics observer to the underlying
// connection.
func WithMetrics(m *metrics.ConnectionMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New constructs a disconnected Client.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials host:port and starts the connection's background send,
// receive, congestion, and timeout loops (spec §6 connect(host, port)).
func (c *Client) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("client: resolve %s:%d: %w", host, port, err)
	}
	connOpts := []netconn.Option{}
	if c.logger != nil {
		connOpts = append(connOpts, netconn.WithLogger(c.logger))
	}
	if c.metrics != nil {
		connOpts = append(connOpts, netconn.WithMetrics(c.metrics))
	}
	conn, err := netconn.DialClient(addr, connOpts...)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	c.conn = conn
	c.conn.Start()
	return nil
}

// Disconnect stops the background loops and closes the socket. If
// shutdownServer is true, the server is asked to shut itself down too
// (only effective if this client holds host permission; spec §4.11).
func (c *Client) Disconnect(shutdownServer bool) {
	if c.conn == nil {
		return
	}
	c.conn.Shutdown(shutdownServer)
	c.conn = nil
}

// AccessGameState runs fn with the locally mirrored game state locked for
// its duration (spec §6 access_game_state()). fn must not retain the
// pointer past its return.
func (c *Client) AccessGameState(fn func(*gamestate.State)) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.AccessGameState(fn)
	return nil
}

// GameState returns a snapshot of the locally mirrored game state.
func (c *Client) GameState() (gamestate.State, error) {
	if c.conn == nil {
		return gamestate.State{}, ErrNotConnected
	}
	return c.conn.GameState(), nil
}

// WaitUntil polls predicate against the mirrored state until it returns
// true or timeout elapses, returning ErrTimeout in the latter case (spec
// §6 wait_until(predicate, timeout)).
func (c *Client) WaitUntil(predicate func(gamestate.State) bool, timeout time.Duration) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(timeout)
	for {
		if predicate(c.conn.GameState()) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TryTo repeatedly calls accessor against the mirrored state until it
// returns true (meaning the attempted action succeeded) or timeout
// elapses, returning ErrTimeout in the latter case (spec §6 try_to(accessor,
// timeout)). accessor runs with the state locked, mirroring AccessGameState.
func (c *Client) TryTo(accessor func(*gamestate.State) bool, timeout time.Duration) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		c.conn.AccessGameState(func(s *gamestate.State) { ok = accessor(s) })
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// DispatchEvent enqueues ev for delivery to the server, invoking ackCb
// when it is acknowledged and timeoutCb if retries are exhausted without
// an ack (spec §6 dispatch_event(type, args…, retries, ack_cb)). retries
// chains the timeout callback to re-dispatch with one fewer retry
// remaining, matching the server-side semantics.
func (c *Client) DispatchEvent(ev event.Event, retries int, ackCb func(), timeoutCb func()) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.dispatchWithRetries(ev, retries, ackCb, timeoutCb)
	return nil
}

func (c *Client) dispatchWithRetries(ev event.Event, retries int, ackCb func(), timeoutCb func()) {
	var onTimeout func()
	switch {
	case retries > 0:
		onTimeout = func() { c.dispatchWithRetries(ev, retries-1, ackCb, timeoutCb) }
	case timeoutCb != nil:
		onTimeout = timeoutCb
	}
	c.conn.DispatchEvent(ev, ackCb, onTimeout)
}

// RegisterEventHandler installs fn to run whenever an event of the given
// type arrives from the server, replacing any previously registered
// handler for that type (spec §6 register_event_handler(type, fn)).
func (c *Client) RegisterEventHandler(eventType string, fn func(event.Event)) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.Handlers().Register(eventType, fn)
	return nil
}
