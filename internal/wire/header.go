package wire

import (
	"encoding/binary"
	"fmt"

	"pygase/sqn"
)

// Magic is the fixed 4-byte protocol identifier prefixing every datagram.
var Magic = [4]byte{0xff, 0xd0, 0xfa, 0xb9}

// Header is the fixed 12-byte (when Sqn is 16-bit) datagram prefix: magic,
// sequence, ack, and a 32-bit selective-ack bitfield.
type Header struct {
	Sequence    sqn.Sqn
	Ack         sqn.Sqn
	AckBitfield uint32
}

// HeaderSize reports the encoded header length in bytes for the current Sqn
// bytesize configuration.
func HeaderSize() int {
	return len(Magic) + 2*sqn.Bytesize() + 4
}

// Encode serializes the header as magic || sequence_be || ack_be ||
// ack_bitfield_be32.
func (h Header) Encode() []byte {
	buf := make([]byte, 0, HeaderSize())
	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Sequence.Bytes()...)
	buf = append(buf, h.Ack.Bytes()...)
	var bits [4]byte
	binary.BigEndian.PutUint32(bits[:], h.AckBitfield)
	buf = append(buf, bits[:]...)
	return buf
}

// DecodeHeader checks the magic first, failing with ErrProtocolIDMismatch
// if absent, then decodes the remaining fixed-width fields. It returns the
// header and the number of bytes consumed.
func DecodeHeader(data []byte) (Header, int, error) {
	if len(data) < len(Magic) || data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return Header{}, 0, ErrProtocolIDMismatch
	}
	n := sqn.Bytesize()
	need := HeaderSize()
	if len(data) < need {
		return Header{}, 0, fmt.Errorf("%w: truncated header", ErrParse)
	}
	seq, err := sqn.FromBytes(data[4 : 4+n])
	if err != nil {
		return Header{}, 0, err
	}
	ack, err := sqn.FromBytes(data[4+n : 4+2*n])
	if err != nil {
		return Header{}, 0, err
	}
	bits := binary.BigEndian.Uint32(data[4+2*n : need])
	return Header{Sequence: seq, Ack: ack, AckBitfield: bits}, need, nil
}
