package netconn

import (
	"net"
	"sync"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/wire"
)

// udpTransport adapts a connected *net.UDPConn to the Transport interface;
// addr is ignored since the socket already has a single fixed peer.
type udpTransport struct{ conn *net.UDPConn }

func (t udpTransport) Send(_ *net.UDPAddr, data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

// ClientConnection is the client-side half of a PyGaSe session: a
// dedicated UDP socket to the server, a locally mirrored game state, and
// the send/receive/congestion loops that keep both alive (spec §4.9).
type ClientConnection struct {
	*Connection

	socket *net.UDPConn
	mirror *gamestate.Store

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// DialClient opens a UDP socket to addr. The returned connection starts
// Disconnected; call Start to begin exchanging packages.
func DialClient(addr *net.UDPAddr, opts ...Option) (*ClientConnection, error) {
	socket, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	cc := &ClientConnection{
		Connection: New(addr, udpTransport{conn: socket}, opts...),
		socket:     socket,
		mirror:     gamestate.NewStore(gamestate.New(), gamestate.DefaultCacheSize),
		stop:       make(chan struct{}),
	}
	return cc, nil
}

// GameState returns a snapshot of the locally mirrored game state. Safe
// for concurrent use while Start's loops are running.
func (cc *ClientConnection) GameState() gamestate.State {
	return cc.mirror.GetGameState()
}

// AccessGameState runs fn with the mirror's state locked for its duration
// (spec §6's `access_game_state()` scoped accessor). fn must not retain
// the pointer past its return.
func (cc *ClientConnection) AccessGameState(fn func(*gamestate.State)) {
	cc.mirror.Access(fn)
}

// Start launches the background send, receive, congestion-avoidance and
// timeout-detection loops. It returns immediately; call Shutdown to stop.
func (cc *ClientConnection) Start() {
	cc.wg.Add(4)
	go func() { defer cc.wg.Done(); cc.RunSendLoop(cc.stop, cc.buildPackage) }()
	go func() { defer cc.wg.Done(); cc.runReceiveLoop() }()
	go func() { defer cc.wg.Done(); cc.RunCongestionSupervisor(cc.stop) }()
	go func() { defer cc.wg.Done(); cc.RunTimeoutSupervisor(cc.stop, nil) }()
}

func (cc *ClientConnection) buildPackage(h wire.Header, drain func(add func([]byte) error)) []byte {
	state := cc.mirror.GetGameState()
	builder := wire.NewClientPackageBuilder(h, state.TimeOrder)
	drain(builder.AddEvent)
	return builder.Bytes()
}

func (cc *ClientConnection) runReceiveLoop() {
	buf := make([]byte, wire.MaxDatagramBytes)
	for {
		select {
		case <-cc.stop:
			return
		default:
		}
		cc.socket.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := cc.socket.Read(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		cc.handleDatagram(data, time.Now())
	}
}

func (cc *ClientConnection) handleDatagram(data []byte, now time.Time) {
	pkg, err := wire.DecodeServerPackage(data)
	if err != nil {
		cc.recordDrop("parse_error")
		return
	}
	seqAck := SeqAck{Sequence: pkg.Header.Sequence, Ack: pkg.Header.Ack, AckBitfield: pkg.Header.AckBitfield}
	if err := cc.HandleHeader(seqAck, now); err != nil {
		cc.recordDrop("duplicate")
		return
	}
	if m := cc.Metrics(); m != nil {
		m.ObserveReceive(len(data))
	}

	if len(pkg.StateUpdate) > 0 {
		if update, err := gamestate.DecodeUpdate(pkg.StateUpdate); err == nil {
			cc.mirror.PushUpdate(update)
		}
	}
	for _, raw := range pkg.Events {
		ev, err := event.Decode(raw)
		if err != nil {
			continue
		}
		cc.Handlers().Dispatch(ev)
	}
}

// shutdownControlByte is the raw (non-package) datagram that tells the
// server to tear itself down; only effective when sent by the host client.
const shutdownControlByte = "shutdown"

// Shutdown stops the background loops and closes the socket. If
// shutdownServer is true it first sends the raw "shutdown" control
// datagram so the server's receive loop terminates (spec §4.9, §4.11:
// only effective if this client holds host permission).
func (cc *ClientConnection) Shutdown(shutdownServer bool) {
	if shutdownServer {
		cc.socket.Write([]byte(shutdownControlByte))
	}
	cc.stopOnce.Do(func() { close(cc.stop) })
	cc.wg.Wait()
	cc.socket.Close()
}
