package netconn

import (
	"net"
	"sync"
	"testing"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/wire"
)

// minimalServer is a thin stand-in for the real server package: one shared
// socket, one ServerConnection per source address, demultiplexed by a
// receive loop. It exists here only to exercise netconn end to end.
type minimalServer struct {
	socket *net.UDPConn
	store  *gamestate.Store

	mu    sync.Mutex
	conns map[string]*ServerConnection

	stop chan struct{}
}

func newMinimalServer(t *testing.T, store *gamestate.Store) *minimalServer {
	t.Helper()
	socket, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	s := &minimalServer{
		socket: socket,
		store:  store,
		conns:  make(map[string]*ServerConnection),
		stop:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s
}

func (s *minimalServer) addr() *net.UDPAddr { return s.socket.LocalAddr().(*net.UDPAddr) }

func (s *minimalServer) receiveLoop() {
	transport := SharedSocketTransport{Conn: s.socket}
	buf := make([]byte, wire.MaxDatagramBytes)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.socket.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.socket.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		s.mu.Lock()
		conn, ok := s.conns[addr.String()]
		if !ok {
			conn = NewServerConnection(addr, transport, s.store)
			s.conns[addr.String()] = conn
			conn.Start()
		}
		s.mu.Unlock()

		conn.HandleClientDatagram(data, time.Now())
	}
}

func (s *minimalServer) close() {
	close(s.stop)
	s.mu.Lock()
	for _, c := range s.conns {
		c.Shutdown()
	}
	s.mu.Unlock()
	s.socket.Close()
}

func TestClientReceivesFullStateOnFirstContact(t *testing.T) {
	store := gamestate.NewStore(gamestate.State{
		TimeOrder: mustSqn(t, 5),
		Data:      wire.Record{"level": "arena"},
	}, gamestate.DefaultCacheSize)
	server := newMinimalServer(t, store)
	defer server.close()

	client, err := DialClient(server.addr())
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	defer client.Shutdown(false)
	client.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.GameState().Data["level"] == "arena" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client never received the server's full state; got %+v", client.GameState())
}

func TestClientDispatchedEventAckCallbackFires(t *testing.T) {
	store := gamestate.NewStore(gamestate.New(), gamestate.DefaultCacheSize)
	server := newMinimalServer(t, store)
	defer server.close()

	client, err := DialClient(server.addr())
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	defer client.Shutdown(false)
	client.Start()

	var fired bool
	var mu sync.Mutex
	client.DispatchEvent(event.New("ping", nil, nil), func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := fired
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected dispatched event's ack callback to fire")
}
