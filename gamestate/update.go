package gamestate

import (
	"pygase/internal/wire"
	"pygase/sqn"
)

// Update is a GameStateUpdate: the same shape as State, with TimeOrder and
// any subset of keys. Updates form a semilattice under Merge (spec §4.6).
type Update struct {
	TimeOrder sqn.Sqn
	Status    *Status
	Data      wire.Record
}

// NewUpdate constructs an Update at the given time order.
func NewUpdate(timeOrder sqn.Sqn, data wire.Record) Update {
	if data == nil {
		data = wire.Record{}
	}
	return Update{TimeOrder: timeOrder, Data: data}
}

func maxSqn(a, b sqn.Sqn) sqn.Sqn {
	if a.Greater(b) {
		return a
	}
	return b
}

// Merge combines u and other: the result's TimeOrder is the greater of
// the two, and for each key the value from the update with the larger
// TimeOrder wins, recursing into nested records. Merge is associative and
// commutative across updates with pairwise-distinct TimeOrders; when the
// two operands share a TimeOrder the producer has violated the contract
// and the receiver u is treated as authoritative.
func (u Update) Merge(other Update) Update {
	newer, older := u, other
	if other.TimeOrder.Greater(u.TimeOrder) {
		newer, older = other, u
	}
	result := Update{
		TimeOrder: maxSqn(u.TimeOrder, other.TimeOrder),
		Data:      recursiveUpdate(older.Data, newer.Data, false),
	}
	if newer.Status != nil {
		result.Status = newer.Status
	} else {
		result.Status = older.Status
	}
	return result
}

// Sum folds a sequence of updates onto a base update using Merge, left to
// right. It is associative when every update carries a distinct TimeOrder.
func Sum(base Update, updates ...Update) Update {
	result := base
	for _, u := range updates {
		result = result.Merge(u)
	}
	return result
}

// Bytes encodes the update for transmission as a ServerPackage's
// state-update payload (spec §6 wire format).
func (u Update) Bytes() ([]byte, error) {
	record := wire.Record{
		"time_order": u.TimeOrder.Bytes(),
		"data":       encodeDeletes(u.Data),
	}
	if u.Status != nil {
		record["status"] = int64(*u.Status)
	}
	return wire.Encode(record)
}

// DecodeUpdate reverses Bytes.
func DecodeUpdate(data []byte) (Update, error) {
	record, err := wire.Decode(data)
	if err != nil {
		return Update{}, err
	}
	var u Update
	if raw, ok := record["time_order"].([]byte); ok {
		if s, err := sqn.FromBytes(raw); err == nil {
			u.TimeOrder = s
		}
	}
	if raw, ok := record["data"].(map[string]any); ok {
		u.Data = decodeDeletes(wire.Record(raw))
	} else {
		u.Data = wire.Record{}
	}
	if raw, ok := record["status"].(int64); ok {
		status := Status(raw)
		u.Status = &status
	}
	return u, nil
}
