package handshake

import (
	"net"
	"sync"
	"testing"
	"time"
)

func localConnPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
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
		t.Fatalf("connect a->b: %v", err)
	}
	a.Close()
	bc, err := net.DialUDP("udp4", b.LocalAddr().(*net.UDPAddr), ac.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("connect b->a: %v", err)
	}
	b.Close()
	return ac, bc
}

func TestBurstPunchSymmetric(t *testing.T) {
	a, b := localConnPair(t)
	defer a.Close()
	defer b.Close()

	a.SetReadDeadline(time.Now().Add(5 * time.Second))
	a.SetWriteDeadline(time.Now().Add(5 * time.Second))
	b.SetReadDeadline(time.Now().Add(5 * time.Second))
	b.SetWriteDeadline(time.Now().Add(5 * time.Second))

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() { defer wg.Done(); errA = burstPunch(a) }()
	go func() { defer wg.Done(); errB = burstPunch(b) }()
	wg.Wait()

	if errA != nil {
		t.Fatalf("burstPunch(a): %v", errA)
	}
	if errB != nil {
		t.Fatalf("burstPunch(b): %v", errB)
	}
}

func TestTimedPunchSymmetric(t *testing.T) {
	a, b := localConnPair(t)
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() { defer wg.Done(); errA = timedPunch(a) }()
	go func() { defer wg.Done(); errB = timedPunch(b) }()
	wg.Wait()

	if errA != nil {
		t.Fatalf("timedPunch(a): %v", errA)
	}
	if errB != nil {
		t.Fatalf("timedPunch(b): %v", errB)
	}
}
