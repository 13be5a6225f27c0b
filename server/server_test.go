package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"pygase/gamestate"
	"pygase/internal/event"
	"pygase/internal/netconn"
	"pygase/internal/wire"
	"pygase/sqn"
)

func mustSqn(t *testing.T, v uint64) sqn.Sqn {
	t.Helper()
	s, err := sqn.New(v)
	if err != nil {
		t.Fatalf("sqn.New(%d): %v", v, err)
	}
	return s
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := gamestate.NewStore(gamestate.State{
		TimeOrder: mustSqn(t, 1),
		Data:      wire.Record{"level": "arena"},
	}, gamestate.DefaultCacheSize)
	s, err := New("127.0.0.1:0", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go s.Run()
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s
}

func dialFake(t *testing.T, addr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendClientPackage(t *testing.T, conn *net.UDPConn, seq, ack uint64) {
	t.Helper()
	h := wire.Header{Sequence: mustSqn(t, seq), Ack: mustSqn(t, ack)}
	pkg := wire.ClientPackage{Package: wire.Package{Header: h}, TimeOrder: mustSqn(t, 0)}
	data, err := pkg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestFirstDatagramCreatesConnectionAndDesignatesHost(t *testing.T) {
	s := newTestServer(t)
	conn := dialFake(t, s.Addr())
	sendClientPackage(t, conn, 1, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.conns)
		hasHost := s.hasHost
		s.mu.Unlock()
		if n == 1 && hasHost {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected exactly one ServerConnection registered as host")
}

func TestRegisteredHandlerReceivesDispatchedEvent(t *testing.T) {
	s := newTestServer(t)

	received := make(chan string, 1)
	s.RegisterEventHandler("chat", func(conn *netconn.ServerConnection, ev event.Event) {
		received <- ev.Type
	})

	conn := dialFake(t, s.Addr())
	sendClientPackage(t, conn, 1, 0)

	// Wait for the connection to register, then send an event-carrying
	// package from the client side.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	encoded, err := event.New("chat", nil, wire.Record{"msg": "hi"}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := wire.Header{Sequence: mustSqn(t, 2), Ack: mustSqn(t, 0)}
	pkg := wire.ClientPackage{Package: wire.Package{Header: h, Events: [][]byte{encoded}}, TimeOrder: mustSqn(t, 0)}
	data, err := pkg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case eventType := <-received:
		if eventType != "chat" {
			t.Fatalf("expected chat event, got %q", eventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("registered handler never observed the dispatched event")
	}
}

func TestShutdownFromNonHostIsIgnored(t *testing.T) {
	s := newTestServer(t)
	host := dialFake(t, s.Addr())
	sendClientPackage(t, host, 1, 0)

	guest := dialFake(t, s.Addr())
	sendClientPackage(t, guest, 1, 0)

	time.Sleep(50 * time.Millisecond)
	if _, err := guest.Write([]byte(shutdownCommand)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-s.stop:
		t.Fatalf("a non-host shutdown command must not stop the server")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestShutMeDownFromAnyoneStopsServer(t *testing.T) {
	s := newTestServer(t)
	guest := dialFake(t, s.Addr())
	sendClientPackage(t, guest, 1, 0)
	time.Sleep(50 * time.Millisecond)

	if _, err := guest.Write([]byte(shutMeDownCommand)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-s.stop:
	case <-time.After(time.Second):
		t.Fatalf("expected shut_me_down from a non-host to stop the server")
	}
}

func TestDispatchEventWithZeroRetriesNeverAcksWithoutClientAck(t *testing.T) {
	s := newTestServer(t)
	conn := dialFake(t, s.Addr())
	sendClientPackage(t, conn, 1, 0)

	deadline := time.Now().Add(time.Second)
	var target *netconn.ServerConnection
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, c := range s.conns {
			target = c
		}
		s.mu.Unlock()
		if target != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if target == nil {
		t.Fatalf("expected a registered connection")
	}

	var acked *netconn.ServerConnection
	var mu sync.Mutex
	s.DispatchEvent(event.New("announce", nil, nil), "all", 0, func(c *netconn.ServerConnection) {
		mu.Lock()
		acked = c
		mu.Unlock()
	})

	// Drain the client socket so the event actually leaves the wire, but
	// never ack it: with retries=0 the ack callback must simply never
	// fire, and dispatchWithRetries must not panic or loop.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, wire.MaxDatagramBytes)
	conn.Read(buf)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if acked != nil {
		t.Fatalf("ack callback should not fire without the client ever acking")
	}
}
