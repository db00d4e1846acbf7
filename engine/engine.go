// Package engine implements SafeReadWrite: a sliding-window,
// packet-ID-based retransmission protocol on top of a connected UDP
// socket. It frames each payload, tracks outstanding records, and
// honors resend requests from the peer until the stream is explicitly
// ended. See spec.md §4.3 for the full algorithm this package
// implements verbatim.
package engine

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/qft-dev/qft/config"
	"github.com/qft-dev/qft/stats"
	"github.com/qft-dev/qft/wire"
)

const (
	// inFlightCap is the backpressure threshold from spec.md §3
	// invariant 4 and §8 property P6.
	inFlightCap = 100

	pollTimeout   = 1 * time.Millisecond
	steadyTimeout = 1 * time.Second

	livenessResend = 10 * time.Second
	livenessExit   = 5 * time.Second
)

// Engine is a single-threaded, stateful wrapper around a connected UDP
// socket providing ordered, reliable, length-preserving record
// delivery. It is not safe for concurrent use (spec.md §5).
type Engine struct {
	conn net.Conn

	cfg config.Config

	outCount uint64 // packet_count_out
	inCount  uint64 // packet_count_in

	pending map[uint16][]byte // last_transmitted

	recvBuf []byte

	stats stats.Counters
}

// New wraps an already-connected UDP socket. The caller is expected to
// have completed the hole-punch handshake first.
func New(conn net.Conn, cfg config.Config) *Engine {
	return &Engine{
		conn:    conn,
		cfg:     cfg,
		pending: make(map[uint16][]byte),
		recvBuf: make([]byte, wire.HeaderSize+65535),
	}
}

// Stats returns a snapshot of the engine's protocol counters.
func (e *Engine) Stats() stats.Counters {
	return e.stats
}

// Write frames and enqueues payload as a WRITE record. It blocks as
// needed to respect the in-flight cap and to service peer resend
// requests; it may block indefinitely on a broken link. It fails only
// if payload exceeds wire.MaxPayload.
func (e *Engine) Write(payload []byte, flush bool) error {
	if len(payload) > wire.MaxPayload {
		return fmt.Errorf("engine: payload of %d bytes exceeds max %d", len(payload), wire.MaxPayload)
	}

	seq := uint16(e.outCount)
	e.outCount++

	frame := wire.Encode(seq, wire.KindWrite, payload)
	if err := e.sendFull(frame); err != nil {
		return errors.Wrap(err, "engine: write")
	}
	e.stats.FramesSent++
	e.pending[seq] = frame

	wait := len(e.pending) >= inFlightCap
	if seq == 0xFFFF || flush {
		wait = true
	}

	return e.serviceLoop(seq, wait, false)
}

// End transmits an END frame via the same send path as Write, waits for
// its acknowledgement (bounded by the 5s liveness exit, so shutdown
// never hangs forever), and yields the underlying socket.
func (e *Engine) End() (net.Conn, error) {
	seq := uint16(e.outCount)
	e.outCount++

	frame := wire.Encode(seq, wire.KindEnd, nil)
	if err := e.sendFull(frame); err != nil {
		return nil, errors.Wrap(err, "engine: end")
	}
	e.stats.FramesSent++
	e.pending[seq] = frame

	if err := e.serviceLoop(seq, true, true); err != nil {
		return nil, errors.Wrap(err, "engine: end")
	}
	return e.conn, nil
}

// serviceLoop runs at the tail of every Write/End call, servicing
// inbound ACKs and RESEND_REQUESTs and enforcing the liveness timeouts
// from spec.md §4.3, until wait is false and no catch-up obligation is
// outstanding.
func (e *Engine) serviceLoop(seq uint16, wait, allowEarlyExit bool) error {
	if wait {
		e.setTimeout(steadyTimeout)
	} else {
		e.setTimeout(pollTimeout)
	}

	lastInbound := time.Now()
	buf := e.recvBuf

	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			if !isTimeout(err) {
				// Transient send/recv errors are assumed
				// transient on UDP; absorb and retry.
				continue
			}
			if allowEarlyExit && time.Since(lastInbound) > livenessExit {
				e.setTimeout(steadyTimeout)
				return nil
			}
			if time.Since(lastInbound) > livenessResend {
				if frame, ok := e.pending[seq]; ok {
					e.sendFull(frame)
					e.stats.FramesResent++
				}
				lastInbound = time.Now()
			}
			if !wait {
				e.setTimeout(steadyTimeout)
				return nil
			}
			continue
		}

		if n < wire.HeaderSize {
			e.stats.ShortFramesDropped++
			e.logDrop("short frame (%d bytes)", n)
			continue
		}
		lastInbound = time.Now()

		f, err := wire.Decode(buf[:n])
		if err != nil {
			e.stats.ShortFramesDropped++
			continue
		}

		switch f.Kind {
		case wire.KindAck:
			e.stats.AcksReceived++
			delete(e.pending, f.Seq)
			if f.Seq == seq {
				wait = false
				// ACK of the latest transitively acknowledges
				// every earlier outstanding frame (invariant 3).
				for k := range e.pending {
					delete(e.pending, k)
				}
			}
		case wire.KindResendRequest:
			e.stats.ResendRequestsReceived++
			wait = true
			e.catchUp(f.Seq, seq)
		default:
			e.logDrop("unexpected frame kind %d from peer during send", f.Kind)
		}

		if !wait {
			e.setTimeout(steadyTimeout)
			return nil
		}
	}
}

// catchUp resends every retained frame from n through seq (inclusive),
// wrap-aware, stopping at the first missing entry — entries already
// ACKed and evicted are, by construction, not resent.
func (e *Engine) catchUp(n, seq uint16) {
	cur := n
	for i := 0; i <= inFlightCap+1; i++ {
		frame, ok := e.pending[cur]
		if !ok {
			return
		}
		e.sendFull(frame)
		e.stats.FramesResent++
		if cur == seq {
			return
		}
		cur++
	}
}

// Read returns the next in-order payload, blocking indefinitely until
// a valid next-sequence frame arrives. A zero-length record signals
// end-of-stream (an END frame was observed).
func (e *Engine) Read(maxLen int) ([]byte, int, error) {
	if maxLen > wire.MaxPayload {
		return nil, 0, fmt.Errorf("engine: read buffer of %d bytes exceeds max %d", maxLen, wire.MaxPayload)
	}

	e.setTimeout(0) // block indefinitely; no in-flight write is pacing us
	buf := e.recvBuf

	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			continue // transient I/O: absorbed, retry
		}
		if n < wire.HeaderSize {
			e.stats.ShortFramesDropped++
			e.logDrop("short frame (%d bytes)", n)
			continue
		}

		f, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}

		expected := uint16(e.inCount)
		switch wire.Classify(f.Seq, expected) {
		case wire.Stale:
			e.stats.DuplicateFramesDropped++
			e.sendAck(f.Seq)
			e.logDrop("stale/duplicate frame seq=%d (expected %d)", f.Seq, expected)
			continue

		case wire.InOrder:
			e.sendAck(f.Seq)
			e.inCount++
			if f.Seq == 0xFFFF {
				e.stats.WrapEvents++
				e.logDrop("sequence wrap observed at seq=0xFFFF")
			}
			if f.Kind == wire.KindEnd {
				return nil, 0, nil
			}
			if len(f.Payload) > maxLen {
				return nil, 0, fmt.Errorf("engine: record of %d bytes exceeds read buffer of %d", len(f.Payload), maxLen)
			}
			payload := make([]byte, len(f.Payload))
			copy(payload, f.Payload)
			return payload, len(payload), nil

		case wire.Gap:
			e.stats.ResendRequestsSent++
			e.sendResendRequest(expected)
			e.logDrop("gap detected: seq=%d ahead of expected=%d, requesting resend", f.Seq, expected)
			continue
		}
	}
}

func (e *Engine) sendAck(seq uint16) {
	frame := wire.Encode(seq, wire.KindAck, nil)
	if err := e.sendFull(frame); err == nil {
		e.stats.AcksSent++
	}
}

func (e *Engine) sendResendRequest(seq uint16) {
	frame := wire.Encode(seq, wire.KindResendRequest, nil)
	e.sendFull(frame)
}

// sendFull retries indefinitely on partial send or transient I/O
// error, per spec.md §4.3/§7 ("UDP errors are assumed transient").
func (e *Engine) sendFull(frame []byte) error {
	for {
		n, err := e.conn.Write(frame)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			// A brief pause avoids a tight spin against a
			// persistently erroring socket while still retrying
			// indefinitely.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == len(frame) {
			return nil
		}
	}
}

func (e *Engine) setTimeout(d time.Duration) {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	dl, ok := e.conn.(deadliner)
	if !ok {
		return
	}
	if d <= 0 {
		dl.SetReadDeadline(time.Time{})
		return
	}
	dl.SetReadDeadline(time.Now().Add(d))
}

func (e *Engine) logDrop(format string, args ...interface{}) {
	if e.cfg.HideDrops {
		return
	}
	log.Printf("engine: "+format, args...)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
