// Package terminal implements the Periphery-side PTY terminal engine:
// spawn/lifecycle, a bounded history ring, stdin/stdout pumps, recreation
// policy, container exec/attach variants, and the end-to-end channel
// forwarding that bridges a terminal's stdin/stdout to a registry.Conn's
// Terminal sub-channel.
package terminal

import "sync"

// HistoryLimit bounds a terminal's history ring to 1 MiB.
const HistoryLimit = 1 << 20

// HistoryRing is a byte ring buffer that keeps only the most recent
// HistoryLimit bytes written to it, evicting from the front. It is backed
// by two slices so replay can hand them to a caller without a copy of the
// whole buffer: contents is "older" || "newer", where either may be empty.
type HistoryRing struct {
	mu      sync.RWMutex
	limit   int
	older   []byte
	newer   []byte
}

// NewHistoryRing creates a ring bounded to limit bytes (HistoryLimit in
// production; tests use smaller limits to exercise eviction cheaply).
func NewHistoryRing(limit int) *HistoryRing {
	return &HistoryRing{limit: limit}
}

// Write appends data, evicting the oldest bytes once the ring exceeds its
// limit. Safe for concurrent use with Snapshot.
func (r *HistoryRing) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.newer = append(r.newer, data...)
	total := len(r.older) + len(r.newer)
	if total <= r.limit {
		return
	}

	// Collapse into a single buffer sized to the limit, keeping the
	// suffix, then split it back into older/newer halves so future writes
	// keep appending to "newer" without repeated reallocation of the
	// whole ring.
	combined := make([]byte, 0, total)
	combined = append(combined, r.older...)
	combined = append(combined, r.newer...)
	suffix := combined[len(combined)-r.limit:]

	r.older = append([]byte(nil), suffix...)
	r.newer = r.newer[:0]
}

// Snapshot returns the ring's two slices, non-empty ones only, in order.
// Concatenated they equal the suffix of all bytes ever written, of length
// min(total written, limit).
func (r *HistoryRing) Snapshot() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out [][]byte
	if len(r.older) > 0 {
		out = append(out, append([]byte(nil), r.older...))
	}
	if len(r.newer) > 0 {
		out = append(out, append([]byte(nil), r.newer...))
	}
	return out
}

// Len reports the current number of bytes held.
func (r *HistoryRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.older) + len(r.newer)
}
