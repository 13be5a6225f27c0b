package wire

import "encoding/binary"

// Builder incrementally assembles a datagram. The header and any fixed
// prefix (time_order or state-update) are serialized once; each AddEvent
// call appends to the cached event block rather than re-encoding the whole
// datagram, per spec §4.3's amortization requirement.
type Builder struct {
	prefix []byte
	events []byte
}

// NewPackageBuilder starts a plain-Package builder.
func NewPackageBuilder(h Header) *Builder {
	return &Builder{prefix: h.Encode()}
}

// NewClientPackageBuilder starts a ClientPackage builder.
func NewClientPackageBuilder(h Header, timeOrder interface{ Bytes() []byte }) *Builder {
	prefix := append(h.Encode(), timeOrder.Bytes()...)
	return &Builder{prefix: prefix}
}

// NewServerPackageBuilder starts a ServerPackage builder with the given
// already-encoded state update (nil for none).
func NewServerPackageBuilder(h Header, stateUpdate []byte) *Builder {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(stateUpdate)))
	prefix := append(h.Encode(), lenBuf[:]...)
	prefix = append(prefix, stateUpdate...)
	return &Builder{prefix: prefix}
}

// Size reports the current serialized size.
func (b *Builder) Size() int {
	return len(b.prefix) + len(b.events)
}

// AddEvent appends an already-encoded event to the cached event block. It
// fails with ErrOverflow without mutating the builder if the addition
// would push the datagram past MaxDatagramBytes.
func (b *Builder) AddEvent(encoded []byte) error {
	if len(encoded) > 0xffff {
		return ErrOverflow
	}
	addition := 2 + len(encoded)
	if b.Size()+addition > MaxDatagramBytes {
		return ErrOverflow
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(encoded)))
	b.events = append(b.events, lenBuf[:]...)
	b.events = append(b.events, encoded...)
	return nil
}

// Bytes materializes the full datagram.
func (b *Builder) Bytes() []byte {
	out := make([]byte, 0, b.Size())
	out = append(out, b.prefix...)
	out = append(out, b.events...)
	return out
}
