// Package gamestate implements the time-ordered game-state model (spec
// §3 GameState/GameStateUpdate, §4.6–4.8): a commutative-associative
// update algebra, a bounded update cache, and a fixed-tick simulator.
package gamestate

import (
	"bytes"

	"pygase/internal/wire"
	"pygase/sqn"
)

// Status is the reserved game_status field.
type Status int

const (
	// Paused means the simulation loop is not advancing time.
	Paused Status = iota
	// Active means the simulation loop is ticking.
	Active
)

func (s Status) String() string {
	if s == Active {
		return "active"
	}
	return "paused"
}

type deleteMarker struct{}

// ToDelete is the reserved sentinel assigned to a key in an Update to mean
// "remove this key when applying to a state" (spec's 4-byte token
// d281e5ba, represented here as a distinguishable Go value). On the wire
// it is carried as deleteToken; see encodeDeletes/decodeDeletes.
var ToDelete = deleteMarker{}

// IsDelete reports whether v is the ToDelete sentinel.
func IsDelete(v any) bool {
	_, ok := v.(deleteMarker)
	return ok
}

// deleteToken is the wire representation of ToDelete: the reserved
// 4-byte token d281e5ba (spec §3/§6/GLOSSARY), carried as a msgpack bin
// value so it decodes back to a []byte rather than a map.
var deleteToken = []byte{0xd2, 0x81, 0xe5, 0xba}

func isDeleteToken(v any) bool {
	b, ok := v.([]byte)
	return ok && bytes.Equal(b, deleteToken)
}

// encodeDeletes returns a copy of r with every ToDelete sentinel replaced
// by deleteToken, recursing into nested records, for transmission.
func encodeDeletes(r wire.Record) wire.Record {
	out := make(wire.Record, len(r))
	for k, v := range r {
		switch {
		case IsDelete(v):
			out[k] = deleteToken
		default:
			if nested, ok := v.(wire.Record); ok {
				out[k] = encodeDeletes(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// decodeDeletes reverses encodeDeletes: every deleteToken value becomes
// ToDelete, recursing into nested records.
func decodeDeletes(r wire.Record) wire.Record {
	out := make(wire.Record, len(r))
	for k, v := range r {
		switch {
		case isDeleteToken(v):
			out[k] = ToDelete
		default:
			if nested, ok := v.(wire.Record); ok {
				out[k] = decodeDeletes(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// State is a mapping of string keys to primitive values plus the two
// reserved fields TimeOrder and Status. It is mutated only by applying a
// strictly newer Update.
type State struct {
	TimeOrder sqn.Sqn
	Status    Status
	Data      wire.Record
}

// New constructs an initial, Paused state at TimeOrder 0.
func New() State {
	return State{Data: wire.Record{}}
}

// recursiveUpdate overlays src onto dst, recursing into nested records
// instead of replacing whole values. When applyDeletes is true, a key
// whose src value is ToDelete is removed from the result instead of being
// set to the sentinel (spec §4.6: deletion is only resolved when folding
// an update into a base state, not when merging two updates).
func recursiveUpdate(dst, src wire.Record, applyDeletes bool) wire.Record {
	out := make(wire.Record, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if applyDeletes && IsDelete(v) {
			delete(out, k)
			continue
		}
		if existing, ok := out[k]; ok {
			if existingMap, ok1 := existing.(wire.Record); ok1 {
				if newMap, ok2 := v.(wire.Record); ok2 {
					out[k] = recursiveUpdate(existingMap, newMap, applyDeletes)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// Apply folds u into s. If u is not strictly newer than s, Apply is a
// no-op and returns s unchanged.
func (s State) Apply(u Update) State {
	if !u.TimeOrder.Greater(s.TimeOrder) {
		return s
	}
	status := s.Status
	if u.Status != nil {
		status = *u.Status
	}
	return State{
		TimeOrder: u.TimeOrder,
		Status:    status,
		Data:      recursiveUpdate(s.Data, u.Data, true),
	}
}

// Clone returns a state whose Data map is independent of the receiver's.
func (s State) Clone() State {
	return State{TimeOrder: s.TimeOrder, Status: s.Status, Data: recursiveUpdate(wire.Record{}, s.Data, false)}
}

// AsUpdate represents the entire state as an Update carrying every key, for
// peers that have no prior time_order to fold from (spec §4.10).
func (s State) AsUpdate() Update {
	status := s.Status
	return Update{TimeOrder: s.TimeOrder, Status: &status, Data: s.Data}
}
