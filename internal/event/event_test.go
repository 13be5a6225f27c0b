package event

import "testing"

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	ev := New("chat", []any{"hello"}, map[string]any{"from": "alice"})
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != "chat" {
		t.Fatalf("type mismatch: got %q", decoded.Type)
	}
	if len(decoded.Args) != 1 || decoded.Args[0] != "hello" {
		t.Fatalf("args mismatch: got %v", decoded.Args)
	}
	if decoded.Kwargs["from"] != "alice" {
		t.Fatalf("kwargs mismatch: got %v", decoded.Kwargs)
	}
}

func TestRegistryDispatchesKnownType(t *testing.T) {
	reg := NewRegistry()
	var received Event
	reg.Register("ping", func(ev Event) { received = ev })
	ok := reg.Dispatch(New("ping", nil, nil))
	if !ok {
		t.Fatalf("expected dispatch to find handler")
	}
	if received.Type != "ping" {
		t.Fatalf("handler did not receive event")
	}
}

func TestRegistryIgnoresUnknownType(t *testing.T) {
	reg := NewRegistry()
	ok := reg.Dispatch(New("unregistered", nil, nil))
	if ok {
		t.Fatalf("expected unknown event type to be silently discarded")
	}
}
