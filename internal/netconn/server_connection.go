package netconn

import (
	"net"
	"sync"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/logging"
	"pygase/internal/wire"
	"pygase/sqn"
)

// SharedSocketTransport sends through a single UDP socket shared by every
// ServerConnection, addressed per call (spec §4.11's single-socket
// multiplexer).
type SharedSocketTransport struct{ Conn *net.UDPConn }

// Send implements Transport.
func (t SharedSocketTransport) Send(addr *net.UDPAddr, data []byte) error {
	_, err := t.Conn.WriteToUDP(data, addr)
	return err
}

// ServerConnection is the server-side half of a PyGaSe session: it shares
// a reference to the authoritative GameStateStore and, per tick, sends
// either the full state (for a peer with no acknowledged time_order yet)
// or the folded update since the peer's last known time_order (spec
// §4.10).
type ServerConnection struct {
	*Connection

	store *gamestate.Store

	peerMu        sync.Mutex
	peerTimeOrder sqn.Sqn

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewServerConnection constructs a ServerConnection backed by the shared
// store, addressed to remoteAddr over transport (typically a
// SharedSocketTransport wrapping the server's one socket).
func NewServerConnection(remoteAddr *net.UDPAddr, transport Transport, store *gamestate.Store, opts ...Option) *ServerConnection {
	return &ServerConnection{
		Connection: New(remoteAddr, transport, opts...),
		store:      store,
		stop:       make(chan struct{}),
	}
}

// Start launches the background send, congestion-avoidance and
// timeout-detection loops. Incoming datagrams are fed in by the server's
// own receive loop via HandleClientDatagram, since the socket is shared.
// Start may be called again after the connection has gone Disconnected, to
// resume a peer that reconnects with a fresh datagram (spec §4.11 step 4).
func (sc *ServerConnection) Start() {
	sc.resetTimeoutGate()
	sc.wg.Add(3)
	go func() { defer sc.wg.Done(); sc.RunSendLoop(sc.stop, sc.buildPackage) }()
	go func() { defer sc.wg.Done(); sc.RunCongestionSupervisor(sc.stop) }()
	go func() { defer sc.wg.Done(); sc.RunTimeoutSupervisor(sc.stop, sc.onTimeout) }()
}

// onTimeout runs once when CheckTimeout first finds genuine silence: it
// forgets the peer's last known time_order, so that if this address
// reconnects, buildPackage sends the full state again rather than a fold
// from a time_order the peer has long since discarded.
func (sc *ServerConnection) onTimeout() {
	sc.peerMu.Lock()
	sc.peerTimeOrder = sqn.Zero
	sc.peerMu.Unlock()
	if sc.logger != nil {
		sc.logger.Info("netconn: peer timed out", logging.String("remote", sc.RemoteAddr().String()))
	}
}

func (sc *ServerConnection) buildPackage(h wire.Header, drain func(add func([]byte) error)) []byte {
	var payload []byte
	sc.peerMu.Lock()
	peerTimeOrder := sc.peerTimeOrder
	sc.peerMu.Unlock()

	if peerTimeOrder == sqn.Zero {
		// The peer has never acknowledged a state (spec §4.10, §8
		// scenario 1): send the entire current state rather than folding
		// from zero, which would omit keys evicted from the cache.
		state := sc.store.GetGameState()
		if b, err := state.AsUpdate().Bytes(); err == nil {
			payload = b
		}
	} else if folded, ok := sc.store.FoldSince(peerTimeOrder); ok {
		if b, err := folded.Bytes(); err == nil {
			payload = b
		}
	}

	builder := wire.NewServerPackageBuilder(h, payload)
	drain(builder.AddEvent)
	return builder.Bytes()
}

// HandleClientDatagram processes one datagram received from this peer.
// The server's shared receive loop demultiplexes by source address and
// calls this for the matching ServerConnection.
func (sc *ServerConnection) HandleClientDatagram(data []byte, now time.Time) {
	pkg, err := wire.DecodeClientPackage(data)
	if err != nil {
		sc.recordDrop("parse_error")
		return
	}
	seqAck := SeqAck{Sequence: pkg.Header.Sequence, Ack: pkg.Header.Ack, AckBitfield: pkg.Header.AckBitfield}
	if err := sc.HandleHeader(seqAck, now); err != nil {
		sc.recordDrop("duplicate")
		return
	}
	if m := sc.Metrics(); m != nil {
		m.ObserveReceive(len(data))
	}

	sc.peerMu.Lock()
	sc.peerTimeOrder = pkg.TimeOrder
	sc.peerMu.Unlock()

	for _, raw := range pkg.Events {
		ev, err := event.Decode(raw)
		if err != nil {
			continue
		}
		sc.Handlers().Dispatch(ev)
	}
}

// Shutdown stops this connection's background loops.
func (sc *ServerConnection) Shutdown() {
	sc.stopOnce.Do(func() { close(sc.stop) })
	sc.wg.Wait()
}
