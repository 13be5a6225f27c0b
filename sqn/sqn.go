// Package sqn implements cyclic sequence number arithmetic for the pygase
// wire protocol: an unsigned counter that wraps around a configurable bit
// width while preserving temporal ordering via signed distance comparison.
package sqn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrValueRange reports that a value lies outside [0, 2^bitsize-1].
var ErrValueRange = errors.New("sqn: value out of range")

// ErrParse reports that a byte slice could not be decoded into a Sqn.
var ErrParse = errors.New("sqn: malformed byte representation")

// defaultBytesize matches the wire protocol's 16-bit sequence numbers.
const defaultBytesize = 2

var bytesize int32 = defaultBytesize

// SetBytesize configures the process-wide sequence number width in bytes.
// It is meant to be called once at startup, before any Sqn values are
// constructed; changing it afterwards invalidates previously constructed
// values that were built against a different width.
func SetBytesize(n int) {
	if n <= 0 || n > 8 {
		panic(fmt.Sprintf("sqn: invalid bytesize %d", n))
	}
	atomic.StoreInt32(&bytesize, int32(n))
}

// Bytesize reports the currently configured sequence number width in bytes.
func Bytesize() int {
	return int(atomic.LoadInt32(&bytesize))
}

func period() int64 {
	return int64(1) << uint(Bytesize()*8)
}

// MaxSequence returns the largest representable raw sequence value,
// 2^bitsize - 1.
func MaxSequence() uint64 {
	return uint64(period() - 1)
}

// Sqn is a cyclic unsigned sequence number. The zero value is the "never
// seen" sentinel; valid in-use sequence numbers start at 1.
type Sqn uint64

// Zero is the "never seen" sentinel value.
const Zero Sqn = 0

// New constructs a Sqn from an integer in [0, 2^bitsize-1].
func New(value uint64) (Sqn, error) {
	if value > MaxSequence() {
		return 0, fmt.Errorf("%w: %d exceeds max %d", ErrValueRange, value, MaxSequence())
	}
	return Sqn(value), nil
}

func normalizeMod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

// Add returns s shifted by k, wrapping modulo 2^bitsize and skipping the
// sentinel value 0: incrementing past the maximum sequence lands on 1,
// decrementing past 1 lands on the maximum sequence.
func (s Sqn) Add(k int64) Sqn {
	p := period()
	raw := normalizeMod(int64(s)+k, p)
	if raw == 0 {
		if k >= 0 {
			raw = 1
		} else {
			raw = p - 1
		}
	}
	return Sqn(raw)
}

// Sub computes the signed cyclic distance s - other, the representative in
// (-2^(bitsize-1), 2^(bitsize-1)]. Two sequence numbers generated within a
// window shorter than half the period compare in true temporal order under
// the sign of this distance.
func (s Sqn) Sub(other Sqn) int64 {
	p := period()
	diff := normalizeMod(int64(s)-int64(other), p)
	if diff > p/2 {
		diff -= p
	}
	return diff
}

// Less reports whether s is cyclically older than other.
func (s Sqn) Less(other Sqn) bool {
	return s.Sub(other) < 0
}

// Greater reports whether s is cyclically newer than other.
func (s Sqn) Greater(other Sqn) bool {
	return s.Sub(other) > 0
}

// Bytes serializes s to exactly Bytesize() bytes, big-endian.
func (s Sqn) Bytes() []byte {
	n := Bytesize()
	buf := make([]byte, n)
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], uint64(s))
	copy(buf, full[8-n:])
	return buf
}

// FromBytes decodes a Sqn from exactly Bytesize() bytes, big-endian.
func FromBytes(b []byte) (Sqn, error) {
	n := Bytesize()
	if len(b) != n {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrParse, n, len(b))
	}
	var full [8]byte
	copy(full[8-n:], b)
	return Sqn(binary.BigEndian.Uint64(full[:])), nil
}

func (s Sqn) String() string {
	return fmt.Sprintf("%d", uint64(s))
}
