// Package transfer is the thin file-transfer driver around the
// engine: read/write loops, progress bookkeeping, and an optional
// compression layer. Per spec.md §1/§5 this package is "a thin
// consumer" of the core — it owns none of the protocol's hard
// invariants, only the loop that feeds bytes into and pulls bytes out
// of an *engine.Engine.
package transfer

import (
	"io"

	"github.com/golang/snappy"

	"github.com/qft-dev/qft/engine"
	"github.com/qft-dev/qft/wire"
)

// Progress reports fractional completion in [0, 1]. A nil Progress is
// fine; callers that don't care about a GUI simply omit it, matching
// spec.md §1's "progress reporting is a simple callback contract."
type Progress func(fraction float64)

// chunkSize bounds how much of the source we read before handing a
// record to the engine. It stays well under wire.MaxPayload so a
// single short read never needs splitting, and compression (which can
// occasionally grow incompressible data slightly) never pushes a
// record over the limit.
const chunkSize = 32 * 1024

// SendOptions configures Send.
type SendOptions struct {
	// TotalSize, if known, enables fractional Progress reporting.
	// Zero means "unknown," in which case Progress is called only once,
	// with 1, after the stream has been ended.
	TotalSize int64
	// Compress applies snappy block compression to each record
	// before handing it to the engine, the same codec kcptun wraps
	// its smux streams in via std.CompStream — applied here to
	// discrete records instead of a byte stream.
	Compress bool
	// StreamMode mirrors config.Config.StreamMode: when set, Send
	// treats a zero-byte read as "nothing available yet" rather than
	// end-of-file, and keeps polling r instead of ending the stream.
	StreamMode bool
	Progress   Progress
}

// Send reads r to completion (or indefinitely, in StreamMode),
// framing and writing each chunk through e, then ends the stream.
func Send(e *engine.Engine, r io.Reader, opts SendOptions) error {
	buf := make([]byte, chunkSize)
	var sent int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			payload := buf[:n]
			if opts.Compress {
				payload = snappy.Encode(nil, payload)
			}
			if err := e.Write(payload, false); err != nil {
				return err
			}
			sent += int64(n)
			if opts.Progress != nil && opts.TotalSize > 0 {
				opts.Progress(float64(sent) / float64(opts.TotalSize))
			}
		}
		if err == io.EOF {
			if opts.StreamMode {
				continue
			}
			break
		}
		if err != nil {
			return err
		}
	}

	_, err := e.End()
	if opts.Progress != nil {
		opts.Progress(1)
	}
	return err
}

// RecvOptions configures Receive.
type RecvOptions struct {
	// ExpectedSize, if known, enables fractional Progress reporting.
	ExpectedSize int64
	// Compress must match the sender's SendOptions.Compress.
	Compress bool
	Progress Progress
}

// Receive reads records from e and writes each payload to w until an
// end-of-stream record is observed.
func Receive(e *engine.Engine, w io.Writer, opts RecvOptions) error {
	var received int64
	for {
		payload, n, err := e.Read(wire.MaxPayload)
		if err != nil {
			return err
		}
		if n == 0 {
			if opts.Progress != nil {
				opts.Progress(1)
			}
			return nil
		}
		if opts.Compress {
			decoded, err := snappy.Decode(nil, payload[:n])
			if err != nil {
				return err
			}
			payload = decoded
			n = len(decoded)
		}
		if _, err := w.Write(payload[:n]); err != nil {
			return err
		}
		received += int64(n)
		if opts.Progress != nil && opts.ExpectedSize > 0 {
			opts.Progress(float64(received) / float64(opts.ExpectedSize))
		}
	}
}
