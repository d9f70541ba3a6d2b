package termctl

import "testing"

func TestSentinelDetectorDetectsAltQ(t *testing.T) {
	d := NewSentinelDetector()
	detected, fwd := d.FeedBuf([]byte{0xC5, 0x93})
	if !detected {
		t.Fatal("expected Alt+Q sentinel to be detected")
	}
	if len(fwd) != 0 {
		t.Errorf("expected no forwarded bytes, got %v", fwd)
	}
}

func TestSentinelDetectorForwardsUnrelatedBytes(t *testing.T) {
	d := NewSentinelDetector()
	detected, fwd := d.FeedBuf([]byte("hello"))
	if detected {
		t.Fatal("did not expect a sentinel match")
	}
	if string(fwd) != "hello" {
		t.Errorf("got %q, want %q", fwd, "hello")
	}
}

func TestSentinelDetectorFalseStartIsForwarded(t *testing.T) {
	d := NewSentinelDetector()
	// First sentinel byte followed by something other than the second byte
	// should forward both, unconsumed.
	detected, fwd := d.FeedBuf([]byte{0xC5, 'x'})
	if detected {
		t.Fatal("did not expect a sentinel match on a false start")
	}
	if string(fwd) != "\xc5x" {
		t.Errorf("got %q, want the false-start bytes forwarded", fwd)
	}
}

func TestSentinelDetectorMidStreamMatch(t *testing.T) {
	d := NewSentinelDetector()
	detected, fwd := d.FeedBuf([]byte{'a', 'b', 0xC5, 0x93})
	if !detected {
		t.Fatal("expected sentinel to be found mid-stream")
	}
	if string(fwd) != "ab" {
		t.Errorf("got %q, want %q", fwd, "ab")
	}
}
