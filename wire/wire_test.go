package wire

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := func(seq uint16, payload []byte) bool {
		if len(payload) > MaxPayload {
			payload = payload[:MaxPayload]
		}
		buf := Encode(seq, KindWrite, payload)
		if buf[2] != KindWrite {
			return false
		}
		got, err := Decode(buf)
		if err != nil {
			return false
		}
		if got.Seq != seq || got.Kind != KindWrite {
			return false
		}
		if len(payload) == 0 {
			return len(got.Payload) == 0
		}
		return bytes.Equal(got.Payload, payload)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		if _, err := Decode(make([]byte, n)); err == nil {
			t.Fatalf("expected error decoding %d-byte frame", n)
		}
	}
}

func TestClassifyInOrder(t *testing.T) {
	if got := Classify(5, 5); got != InOrder {
		t.Fatalf("Classify(5,5) = %v, want InOrder", got)
	}
}

func TestClassifyStale(t *testing.T) {
	cases := []struct{ seq, expected uint16 }{
		{4, 5},
		{0, 1},
		{0xFFFF, 0}, // previous record just before a wrap
	}
	for _, c := range cases {
		if got := Classify(c.seq, c.expected); got != Stale {
			t.Fatalf("Classify(%d,%d) = %v, want Stale", c.seq, c.expected, got)
		}
	}
}

func TestClassifyGap(t *testing.T) {
	cases := []struct{ seq, expected uint16 }{
		{7, 5},
		{0, 0xFFFE}, // wrap: 0 is two ahead of 0xFFFE
	}
	for _, c := range cases {
		if got := Classify(c.seq, c.expected); got != Gap {
			t.Fatalf("Classify(%d,%d) = %v, want Gap", c.seq, c.expected, got)
		}
	}
}

func TestClassifyWrapBoundary(t *testing.T) {
	// A forward distance one short of ForwardWindow is still "ahead"
	// (Gap); exactly ForwardWindow forward flips to "stale" territory.
	expected := uint16(0)
	gapSeq := expected + (ForwardWindow - 1)
	if got := Classify(gapSeq, expected); got != Gap {
		t.Fatalf("Classify(%d,%d) = %v, want Gap", gapSeq, expected, got)
	}
	staleSeq := expected + ForwardWindow
	if got := Classify(staleSeq, expected); got != Stale {
		t.Fatalf("Classify(%d,%d) = %v, want Stale", staleSeq, expected, got)
	}
}
