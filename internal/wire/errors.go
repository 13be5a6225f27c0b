package wire

import "errors"

// ErrProtocolIDMismatch reports that a byte slice lacks the protocol magic
// and should be routed to the control-byte fallback path instead of being
// parsed as a Package.
var ErrProtocolIDMismatch = errors.New("wire: protocol magic mismatch")

// ErrOverflow reports that an operation would push a datagram past the
// 2048-byte hard cap.
var ErrOverflow = errors.New("wire: datagram exceeds maximum size")

// ErrParse reports that a byte slice could not be decoded as a well-formed
// record.
var ErrParse = errors.New("wire: malformed payload")
