package termctl

// DisconnectSentinel is the local-disconnect byte sequence the CLI watches
// for on stdin: Alt+Q, encoded as 0xC5 0x93.
var DisconnectSentinel = [2]byte{0xC5, 0x93}

// SentinelDetector recognises DisconnectSentinel in a stream of keystrokes
// fed one byte at a time, buffering a lone first-byte match until the next
// byte resolves it.
type SentinelDetector struct {
	sawFirst bool
}

// NewSentinelDetector returns a detector ready to scan a fresh stream.
func NewSentinelDetector() *SentinelDetector {
	return &SentinelDetector{}
}

// Feed processes one byte. It returns (detected, forward) where forward is
// the bytes that should still be sent to the remote PTY — any sentinel byte
// held back while awaiting resolution, and released unconsumed if the
// sequence fails to complete.
func (d *SentinelDetector) Feed(b byte) (detected bool, forward []byte) {
	if !d.sawFirst {
		if b == DisconnectSentinel[0] {
			d.sawFirst = true
			return false, nil
		}
		return false, []byte{b}
	}

	d.sawFirst = false
	if b == DisconnectSentinel[1] {
		return true, nil
	}
	return false, []byte{DisconnectSentinel[0], b}
}

// FeedBuf processes a buffer, returning (detected, bytesToForward). If
// detected, forwarding stops at the sentinel and any bytes after it in buf
// are discarded, matching the CLI's "sentinel ends the session" behavior.
func (d *SentinelDetector) FeedBuf(buf []byte) (bool, []byte) {
	forward := make([]byte, 0, len(buf))
	for _, b := range buf {
		detected, fwd := d.Feed(b)
		if detected {
			return true, forward
		}
		forward = append(forward, fwd...)
	}
	return false, forward
}
