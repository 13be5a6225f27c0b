package wire

import (
	"encoding/binary"
	"fmt"

	"pygase/sqn"
)

// Package is the framed, typed unit transported in one datagram: a header
// followed by an ordered list of already-encoded event payloads.
type Package struct {
	Header Header
	Events [][]byte
}

// ClientPackage additionally carries the client's last known game-state
// time_order.
type ClientPackage struct {
	Package
	TimeOrder sqn.Sqn
}

// ServerPackage additionally carries an encoded GameStateUpdate. StateUpdate
// is nil when the server has nothing new to send this tick.
type ServerPackage struct {
	Package
	StateUpdate []byte
}

func encodeEventBlock(events [][]byte) ([]byte, error) {
	var out []byte
	for _, ev := range events {
		if len(ev) > 0xffff {
			return nil, fmt.Errorf("%w: event of %d bytes exceeds length-prefix width", ErrOverflow, len(ev))
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(ev)))
		out = append(out, lenBuf[:]...)
		out = append(out, ev...)
	}
	return out, nil
}

func decodeEventBlock(data []byte) ([][]byte, error) {
	var events [][]byte
	i := 0
	for i < len(data) {
		if i+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated event length prefix", ErrParse)
		}
		l := int(binary.BigEndian.Uint16(data[i : i+2]))
		i += 2
		if i+l > len(data) {
			return nil, fmt.Errorf("%w: truncated event body", ErrParse)
		}
		events = append(events, data[i:i+l])
		i += l
	}
	return events, nil
}

// Encode serializes a plain Package: header + event block.
func (p Package) Encode() ([]byte, error) {
	body, err := encodeEventBlock(p.Events)
	if err != nil {
		return nil, err
	}
	out := append(p.Header.Encode(), body...)
	if len(out) > MaxDatagramBytes {
		return nil, ErrOverflow
	}
	return out, nil
}

// DecodePackage decodes a plain Package.
func DecodePackage(data []byte) (Package, error) {
	header, n, err := DecodeHeader(data)
	if err != nil {
		return Package{}, err
	}
	events, err := decodeEventBlock(data[n:])
	if err != nil {
		return Package{}, err
	}
	return Package{Header: header, Events: events}, nil
}

// Encode serializes a ClientPackage: header + time_order + event block.
func (p ClientPackage) Encode() ([]byte, error) {
	body, err := encodeEventBlock(p.Events)
	if err != nil {
		return nil, err
	}
	out := append(p.Header.Encode(), p.TimeOrder.Bytes()...)
	out = append(out, body...)
	if len(out) > MaxDatagramBytes {
		return nil, ErrOverflow
	}
	return out, nil
}

// DecodeClientPackage decodes a ClientPackage.
func DecodeClientPackage(data []byte) (ClientPackage, error) {
	header, n, err := DecodeHeader(data)
	if err != nil {
		return ClientPackage{}, err
	}
	seqSize := sqn.Bytesize()
	if len(data) < n+seqSize {
		return ClientPackage{}, fmt.Errorf("%w: truncated time_order", ErrParse)
	}
	timeOrder, err := sqn.FromBytes(data[n : n+seqSize])
	if err != nil {
		return ClientPackage{}, err
	}
	events, err := decodeEventBlock(data[n+seqSize:])
	if err != nil {
		return ClientPackage{}, err
	}
	return ClientPackage{Package: Package{Header: header, Events: events}, TimeOrder: timeOrder}, nil
}

// Encode serializes a ServerPackage: header + state-update length + bytes +
// event block.
func (p ServerPackage) Encode() ([]byte, error) {
	if len(p.StateUpdate) > 0xffff {
		return nil, fmt.Errorf("%w: state update of %d bytes exceeds length-prefix width", ErrOverflow, len(p.StateUpdate))
	}
	body, err := encodeEventBlock(p.Events)
	if err != nil {
		return nil, err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(p.StateUpdate)))
	out := append(p.Header.Encode(), lenBuf[:]...)
	out = append(out, p.StateUpdate...)
	out = append(out, body...)
	if len(out) > MaxDatagramBytes {
		return nil, ErrOverflow
	}
	return out, nil
}

// DecodeServerPackage decodes a ServerPackage.
func DecodeServerPackage(data []byte) (ServerPackage, error) {
	header, n, err := DecodeHeader(data)
	if err != nil {
		return ServerPackage{}, err
	}
	if len(data) < n+2 {
		return ServerPackage{}, fmt.Errorf("%w: truncated state update length", ErrParse)
	}
	updateLen := int(binary.BigEndian.Uint16(data[n : n+2]))
	cursor := n + 2
	if len(data) < cursor+updateLen {
		return ServerPackage{}, fmt.Errorf("%w: truncated state update body", ErrParse)
	}
	var stateUpdate []byte
	if updateLen > 0 {
		stateUpdate = data[cursor : cursor+updateLen]
	}
	cursor += updateLen
	events, err := decodeEventBlock(data[cursor:])
	if err != nil {
		return ServerPackage{}, err
	}
	return ServerPackage{Package: Package{Header: header, Events: events}, StateUpdate: stateUpdate}, nil
}
