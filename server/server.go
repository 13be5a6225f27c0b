// Package server implements the PyGaSe server multiplexer: a single UDP
// socket demultiplexed by source address into per-client connections,
// sharing one authoritative GameStateStore (spec §4.11). A Server holds no
// GameStateMachine: received client events reach game logic only through
// the event handlers registered on the server.
package server

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/logging"
	"pygase/internal/metrics"
	"pygase/internal/netconn"
	"pygase/internal/wire"
)

// ConnectionStats is a point-in-time view of one multiplexed connection,
// keyed by remote address, for the admin/observability surface.
type ConnectionStats struct {
	RemoteAddr string
	Status     string
	Metrics    metrics.Snapshot
}

const (
	shutdownCommand   = "shutdown"
	shutMeDownCommand = "shut_me_down"
)

// Server owns one UDP socket and every ServerConnection multiplexed over
// it, plus the shared GameStateStore.
type Server struct {
	socket *net.UDPConn
	store  *gamestate.Store
	logger *logging.Logger

	mu              sync.Mutex
	conns           map[string]*netconn.ServerConnection
	hostAddr        string
	hasHost         bool
	pendingHandlers []namedHandler

	stop      chan struct{}
	stopped   chan struct{}
	startedAt time.Time
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New constructs a Server bound to addr, backed by store. Call Run to
// start the multiplexer loop.
func New(addr string, store *gamestate.Store, opts ...Option) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %q: %w", addr, err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %q: %w", addr, err)
	}
	s := &Server{
		socket:    socket,
		store:     store,
		conns:     make(map[string]*netconn.ServerConnection),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() *net.UDPAddr { return s.socket.LocalAddr().(*net.UDPAddr) }

// ConnectionCount reports how many peers are currently multiplexed.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

// ConnectionStats returns a point-in-time snapshot of every multiplexed
// connection's metrics, for the admin/observability HTTP surface.
func (s *Server) ConnectionStats() []ConnectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionStats, 0, len(s.conns))
	for addr, c := range s.conns {
		out = append(out, ConnectionStats{
			RemoteAddr: addr,
			Status:     c.Status().String(),
			Metrics:    c.Metrics().Snapshot(),
		})
	}
	return out
}

// Store exposes the shared GameStateStore backing this server, for the
// admin/observability surface's cache-depth and time_order gauges.
func (s *Server) Store() *gamestate.Store { return s.store }

// RegisterEventHandler registers a handler invoked for events arriving on
// any current or future connection.
func (s *Server) RegisterEventHandler(eventType string, handler func(conn *netconn.ServerConnection, ev event.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlerFor(eventType, handler)
}

func (s *Server) handlerFor(eventType string, handler func(conn *netconn.ServerConnection, ev event.Event)) {
	// Installed on every connection at creation time; see connectionFor.
	s.pendingHandlers = append(s.pendingHandlers, namedHandler{eventType: eventType, handler: handler})
	for _, c := range s.conns {
		c.Handlers().Register(eventType, func(ev event.Event) { handler(c, ev) })
	}
}

type namedHandler struct {
	eventType string
	handler   func(conn *netconn.ServerConnection, ev event.Event)
}

// Run blocks, demultiplexing datagrams until Shutdown is called.
func (s *Server) Run() {
	defer close(s.stopped)
	transport := netconn.SharedSocketTransport{Conn: s.socket}
	buf := make([]byte, wire.MaxDatagramBytes)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.socket.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := s.socket.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		if _, err := wire.DecodeClientPackage(data); err != nil {
			s.handleControlByte(data, addr)
			continue
		}

		conn, isNew := s.connectionFor(addr, transport)
		if isNew || conn.Status() == netconn.Disconnected {
			conn.Start()
		}
		conn.HandleClientDatagram(data, time.Now())
	}
}

func (s *Server) handleControlByte(data []byte, addr *net.UDPAddr) {
	switch {
	case bytes.Equal(data, []byte(shutdownCommand)):
		s.mu.Lock()
		isHost := s.hasHost && s.hostAddr == addr.String()
		s.mu.Unlock()
		if isHost {
			s.stopOnce()
		}
	case bytes.Equal(data, []byte(shutMeDownCommand)):
		s.stopOnce()
	default:
		// not a recognized control byte, ignore
	}
}

func (s *Server) connectionFor(addr *net.UDPAddr, transport netconn.Transport) (*netconn.ServerConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if conn, ok := s.conns[key]; ok {
		return conn, false
	}

	conn := netconn.NewServerConnection(addr, transport, s.store, netconn.WithMetrics(metrics.New(0)), netconn.WithLogger(s.logger))
	s.conns[key] = conn
	if !s.hasHost {
		s.hasHost = true
		s.hostAddr = key
	}
	for _, nh := range s.pendingHandlers {
		handler := nh.handler
		conn.Handlers().Register(nh.eventType, func(ev event.Event) { handler(conn, ev) })
	}
	return conn, true
}

func (s *Server) stopOnce() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
}

// Shutdown stops the multiplexer loop and every connection, then closes
// the socket.
func (s *Server) Shutdown(timeout time.Duration) {
	s.stopOnce()
	select {
	case <-s.stopped:
	case <-time.After(timeout):
	}
	s.mu.Lock()
	for _, c := range s.conns {
		c.Shutdown()
	}
	s.mu.Unlock()
	s.socket.Close()
}

// DispatchEvent broadcasts ev to every connection ("all") or point-casts
// to a single address. retries chains the timeout callback to re-dispatch
// with one fewer retry remaining (spec §4.11). ackCallback, if non-nil,
// receives the connection that acknowledged the event.
func (s *Server) DispatchEvent(ev event.Event, target string, retries int, ackCallback func(*netconn.ServerConnection)) {
	s.mu.Lock()
	targets := make([]*netconn.ServerConnection, 0, len(s.conns))
	if target == "all" || target == "" {
		for _, c := range s.conns {
			targets = append(targets, c)
		}
	} else if c, ok := s.conns[target]; ok {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, conn := range targets {
		s.dispatchWithRetries(conn, ev, retries, ackCallback)
	}
}

func (s *Server) dispatchWithRetries(conn *netconn.ServerConnection, ev event.Event, retries int, ackCallback func(*netconn.ServerConnection)) {
	var onTimeout func()
	if retries > 0 {
		onTimeout = func() {
			s.dispatchWithRetries(conn, ev, retries-1, ackCallback)
		}
	}
	var onAck func()
	if ackCallback != nil {
		onAck = func() { ackCallback(conn) }
	}
	conn.DispatchEvent(ev, onAck, onTimeout)
}
