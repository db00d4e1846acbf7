// Package rendezvous implements the Helper: a stateless, best-effort
// UDP server that pairs two endpoints presenting the same shared
// phrase and reports each endpoint's observed public address to the
// other. Grounded on kcptun/server/main.go's plain accept-loop-plus-
// stdlib-log idiom — there's no session bookkeeping here, so none of
// kcptun's smux/scavenger machinery applies.
package rendezvous

import (
	"context"
	"log"
	"net"

	"github.com/qft-dev/qft/phrase"
)

// Server pairs clients by shared phrase. The zero value is not usable;
// construct with New.
type Server struct {
	conn    *net.UDPConn
	pending map[[phrase.Size]byte]*net.UDPAddr
	quiet   bool
}

// Options configures a Server.
type Options struct {
	// Quiet suppresses the per-pairing log line.
	Quiet bool
}

// New wraps an already-bound UDP socket as a Helper. Serve owns conn
// for its lifetime.
func New(conn *net.UDPConn, opts Options) *Server {
	return &Server{
		conn:    conn,
		pending: make(map[[phrase.Size]byte]*net.UDPAddr),
		quiet:   opts.Quiet,
	}
}

// Run binds 0.0.0.0:port and serves until ctx is done or the socket
// errors. It is the package-level convenience entrypoint mirroring
// spec.md §4.1's run(port).
func Run(ctx context.Context, port int, opts Options) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return err
	}
	defer conn.Close()
	return New(conn, opts).Serve(ctx)
}

// Serve runs the pairing loop until ctx is cancelled or a fatal read
// error occurs. Datagrams of any length other than phrase.Size are
// discarded silently, per spec.md §4.1. The helper never purges stale
// pending entries — intentional, see spec.md §9.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	buf := make([]byte, phrase.Size+1)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		if n != phrase.Size {
			continue
		}
		var key [phrase.Size]byte
		copy(key[:], buf[:n])
		s.pair(key, addr)
	}
}

func (s *Server) pair(key [phrase.Size]byte, addr *net.UDPAddr) {
	prior, ok := s.pending[key]
	if !ok {
		s.pending[key] = addr
		return
	}

	priorFrame, err1 := phrase.Encode(addr.String())
	newFrame, err2 := phrase.Encode(prior.String())
	if err1 != nil || err2 != nil {
		// An address that can't fit in the 200-byte reply is not
		// something a retry will fix; drop the pairing attempt.
		delete(s.pending, key)
		return
	}

	if _, err := s.conn.WriteToUDP(priorFrame[:], prior); err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(newFrame[:], addr); err != nil {
		return
	}
	delete(s.pending, key)
	if !s.quiet {
		log.Println("rendezvous: paired", prior, "<->", addr)
	}
}
