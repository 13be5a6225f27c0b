package gamestate

import (
	"testing"

	"pygase/internal/wire"
)

func TestDeleteSentinelRoundTripsThroughWire(t *testing.T) {
	update := Update{TimeOrder: seq(t, 2), Data: wire.Record{"foo": ToDelete, "baz": 3}}

	encoded, err := update.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	decoded, err := DecodeUpdate(encoded)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if !IsDelete(decoded.Data["foo"]) {
		t.Fatalf("expected foo to decode back to ToDelete, got %#v", decoded.Data["foo"])
	}
	if decoded.Data["baz"] != int64(3) {
		t.Fatalf("expected baz to round-trip, got %#v", decoded.Data["baz"])
	}

	state := State{TimeOrder: seq(t, 1), Data: wire.Record{"foo": 1, "bar": 2}}
	result := state.Apply(decoded)
	if _, ok := result.Data["foo"]; ok {
		t.Fatalf("expected foo to be deleted after applying decoded update, got %v", result.Data)
	}
	if result.Data["bar"] != 2 || result.Data["baz"] != int64(3) {
		t.Fatalf("unexpected result: %v", result.Data)
	}
}

func TestDeleteSentinelRoundTripsThroughNestedRecord(t *testing.T) {
	update := Update{TimeOrder: seq(t, 2), Data: wire.Record{
		"players": wire.Record{"p1": ToDelete, "p2": wire.Record{"x": 1}},
	}}

	encoded, err := update.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	decoded, err := DecodeUpdate(encoded)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	players, ok := decoded.Data["players"].(wire.Record)
	if !ok {
		t.Fatalf("expected players to decode as a nested record, got %#v", decoded.Data["players"])
	}
	if !IsDelete(players["p1"]) {
		t.Fatalf("expected p1 to decode back to ToDelete, got %#v", players["p1"])
	}
	if _, ok := players["p2"].(wire.Record); !ok {
		t.Fatalf("expected p2 to remain a nested record, got %#v", players["p2"])
	}
}
