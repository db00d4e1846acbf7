// Package handshake implements the client-side hole-punch protocol: it
// contacts a rendezvous helper with a shared phrase, learns the
// partner's observed address, and opens a bidirectional UDP path
// through NATs by symmetric probing. Grounded on kcptun/client/main.go's
// dial-then-configure shape (dial, then tune the connection before
// handing it to the caller) and on kcptun's use of pkg/errors to wrap
// construction-time failures.
package handshake

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/qft-dev/qft/config"
	"github.com/qft-dev/qft/phrase"
)

// Options carries driver-supplied socket tuning that isn't part of the
// protocol itself (spec.md §9: global config is an explicit record, not
// something the core reads from the environment).
type Options struct {
	// DSCP, if non-zero, marks outgoing packets with this Differentiated
	// Services Code Point via the connection's IP_TOS/TCLASS option —
	// the same per-connection traffic marking kcptun exposes through
	// kcp.UDPSession.SetDSCP.
	DSCP int
}

const punchTimeout = 1 * time.Second

// Dial performs the full handshake described in spec.md §4.2 and
// returns a UDP socket connected to the cooperating peer, with 1-second
// read/write timeouts armed and (if requested) DSCP marking applied.
func Dial(helperAddr, phraseText string, cfg config.Config, opts Options) (*net.UDPConn, error) {
	frame, err := phrase.Encode(phraseText)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: encode phrase")
	}

	raddr, err := net.ResolveUDPAddr("udp4", helperAddr)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: resolve helper address")
	}

	helperConn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: dial helper")
	}

	if _, err := helperConn.Write(frame[:]); err != nil {
		helperConn.Close()
		return nil, errors.Wrap(err, "handshake: send phrase")
	}

	reply := make([]byte, phrase.Size)
	n, err := helperConn.Read(reply)
	if err != nil {
		helperConn.Close()
		return nil, errors.Wrap(err, "handshake: receive peer address")
	}

	peerAddrText := phrase.Decode(reply[:n])
	peerAddr, err := net.ResolveUDPAddr("udp4", peerAddrText)
	if err != nil {
		helperConn.Close()
		return nil, errors.Wrapf(err, "handshake: parse peer address %q", peerAddrText)
	}

	localAddr := helperConn.LocalAddr().(*net.UDPAddr)
	if err := helperConn.Close(); err != nil {
		return nil, errors.Wrap(err, "handshake: close helper socket")
	}

	conn, err := net.DialUDP("udp4", localAddr, peerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: reconnect to peer")
	}

	if err := conn.SetReadDeadline(time.Now().Add(punchTimeout)); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "handshake: set read timeout")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(punchTimeout)); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "handshake: set write timeout")
	}

	var punchErr error
	switch cfg.PunchStrategy {
	case config.StrategyTimed:
		punchErr = timedPunch(conn)
	default:
		punchErr = burstPunch(conn)
	}
	if punchErr != nil {
		conn.Close()
		return nil, errors.Wrap(punchErr, "handshake: punch")
	}

	if opts.DSCP != 0 {
		if err := ipv4.NewConn(conn).SetTOS(opts.DSCP << 2); err != nil {
			// Non-fatal: DSCP marking is a best-effort traffic hint,
			// not required for connectivity.
			_ = err
		}
	}

	return conn, nil
}

// sleepUntilBoundary blocks until the next wall-clock multiple of d,
// the correlated-timing anchor both peers use to synchronize their
// probes without talking to each other first.
func sleepUntilBoundary(d time.Duration) {
	now := time.Now()
	next := now.Truncate(d).Add(d)
	time.Sleep(time.Until(next))
}

// burstPunch is the default strategy from spec.md §4.2: a rapid burst
// of single-byte probes timed to a shared wall-clock boundary, then a
// two-byte confirmation handshake.
func burstPunch(conn *net.UDPConn) error {
	sleepUntilBoundary(500 * time.Millisecond)

	buf := make([]byte, 2)
	for i := 0; i < 40; i++ {
		start := time.Now()
		if _, err := conn.Write([]byte{0}); err != nil {
			return err
		}
		if remaining := 50*time.Millisecond - time.Since(start); remaining > 0 {
			time.Sleep(remaining)
		}
	}
	drain(conn, buf, 10*time.Millisecond)

	ack := []byte{0, 0}
	if _, err := conn.Write(ack); err != nil {
		return err
	}
	if _, err := conn.Write(ack); err != nil {
		return err
	}

	if err := waitForSize(conn, buf, 2); err != nil {
		return err
	}
	drain(conn, buf, 10*time.Millisecond)
	return nil
}

// timedPunch is the fallback strategy: lock-step round trips at each
// 500ms boundary until both the probe and its confirmation succeed.
func timedPunch(conn *net.UDPConn) error {
	buf := make([]byte, 2)
	for {
		sleepUntilBoundary(500 * time.Millisecond)
		if _, err := conn.Write([]byte{0}); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(punchTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil || n != 1 {
			continue
		}
		if _, err := conn.Write([]byte{0, 0}); err != nil {
			return err
		}
		for {
			if err := conn.SetReadDeadline(time.Now().Add(punchTimeout)); err != nil {
				return err
			}
			n2, err2 := conn.Read(buf)
			if err2 != nil {
				break // lost the lock-step; restart from the outer loop
			}
			if n2 == 2 {
				return nil
			}
		}
	}
}

// drain reads and discards datagrams until d passes without one
// arriving, used to flush duplicate probes left over from the burst.
func drain(conn *net.UDPConn, buf []byte, d time.Duration) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return
		}
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// waitForSize blocks, retrying across read timeouts, until a datagram
// of exactly want bytes arrives. The punch itself never times out:
// a permanent failure here manifests as an unrecoverable blocking
// receive (spec.md §4.2), which is acceptable because the operator is
// expected to retry the whole transfer.
func waitForSize(conn *net.UDPConn, buf []byte, want int) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(punchTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		if n == want {
			return nil
		}
	}
}
