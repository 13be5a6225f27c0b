package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxDatagramBytes is the hard cap on a serialized datagram (spec §4.3).
const MaxDatagramBytes = 2048

// Record is a self-describing mapping of primitive fields: strings, byte
// strings, numbers, booleans, lists, and nested mappings. It is the shape
// the codec serializes for event arguments and game-state updates.
type Record = map[string]any

// Encode serializes a record into its self-describing binary form.
func Encode(record Record) ([]byte, error) {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return data, nil
}

// Decode deserializes bytes produced by Encode. Malformed input fails with
// ErrParse.
func Decode(data []byte) (Record, error) {
	var record Record
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return record, nil
}

// EncodeValue serializes a single value (used for event positional
// arguments and list elements) using the same self-describing codec.
func EncodeValue(value any) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return data, nil
}

// DecodeValue deserializes a single value produced by EncodeValue.
func DecodeValue(data []byte, out any) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}
