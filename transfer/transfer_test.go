package transfer

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/qft-dev/qft/config"
	"github.com/qft-dev/qft/engine"
)

// loopbackPair returns two real UDP sockets on 127.0.0.1, each
// connected to the other, suitable for driving an engine pair over the
// loopback interface.
func loopbackPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	ac, err := net.DialUDP("udp4", a.LocalAddr().(*net.UDPAddr), b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial a->b: %v", err)
	}
	a.Close()
	bc, err := net.DialUDP("udp4", b.LocalAddr().(*net.UDPAddr), ac.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial b->a: %v", err)
	}
	b.Close()
	return ac, bc
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ac, bc := loopbackPair(t)
	defer ac.Close()
	defer bc.Close()

	sender := engine.New(ac, config.Config{HideDrops: true})
	receiver := engine.New(bc, config.Config{HideDrops: true})

	payload := bytes.Repeat([]byte("the quick brown fox "), 5000)
	src := bytes.NewReader(payload)
	var dst bytes.Buffer

	var progressed float64
	recvDone := make(chan error, 1)
	go func() {
		recvDone <- Receive(receiver, &dst, RecvOptions{
			ExpectedSize: int64(len(payload)),
			Progress:     func(f float64) { progressed = f },
		})
	}()

	if err := Send(sender, src, SendOptions{TotalSize: int64(len(payload))}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-recvDone:
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Receive to finish")
	}

	if !bytes.Equal(dst.Bytes(), payload) {
		t.Fatalf("received %d bytes, want %d bytes, and/or content mismatch", dst.Len(), len(payload))
	}
	if progressed != 1 {
		t.Fatalf("final progress = %v, want 1", progressed)
	}
}

func TestSendReceiveCompressed(t *testing.T) {
	ac, bc := loopbackPair(t)
	defer ac.Close()
	defer bc.Close()

	sender := engine.New(ac, config.Config{HideDrops: true})
	receiver := engine.New(bc, config.Config{HideDrops: true})

	payload := bytes.Repeat([]byte("compress me please "), 2000)
	src := bytes.NewReader(payload)
	var dst bytes.Buffer

	recvDone := make(chan error, 1)
	go func() {
		recvDone <- Receive(receiver, &dst, RecvOptions{Compress: true})
	}()

	if err := Send(sender, src, SendOptions{Compress: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-recvDone:
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Receive to finish")
	}

	if !bytes.Equal(dst.Bytes(), payload) {
		t.Fatal("received payload does not match original after compress/decompress round trip")
	}
}
