// Package phrase encodes and decodes the fixed-size, zero-padded
// datagrams exchanged with the rendezvous helper: the shared phrase that
// pairs two endpoints, and the textual peer address the helper hands
// back. Both package rendezvous and package handshake speak this same
// wire format, so it's factored out once rather than duplicated, the
// way kcptun's client and server share wire-level helpers via std.
package phrase

import (
	"bytes"
	"fmt"
)

// Size is the fixed datagram length for both the phrase request and the
// peer-address reply.
const Size = 200

// Encode right-pads s with zero bytes to Size. It returns an error if s
// is already too long to fit.
func Encode(s string) ([Size]byte, error) {
	var out [Size]byte
	if len(s) > Size {
		return out, fmt.Errorf("phrase: %q exceeds %d bytes", s, Size)
	}
	copy(out[:], s)
	return out, nil
}

// Decode strips trailing zero bytes and returns the remainder as a
// string.
func Decode(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
