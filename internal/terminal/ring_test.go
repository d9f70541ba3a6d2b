package terminal

import "testing"

func TestHistoryRingUnderLimitKeepsEverything(t *testing.T) {
	r := NewHistoryRing(16)
	r.Write([]byte("hello"))
	r.Write([]byte(" world"))

	if got, want := r.Len(), len("hello world"); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := flatten(r.Snapshot()); string(got) != "hello world" {
		t.Fatalf("Snapshot() = %q, want %q", got, "hello world")
	}
}

func TestHistoryRingEvictsOldestBytes(t *testing.T) {
	r := NewHistoryRing(8)
	r.Write([]byte("0123456789")) // 10 bytes into an 8 byte ring

	if got, want := r.Len(), 8; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := flatten(r.Snapshot()); string(got) != "23456789" {
		t.Fatalf("Snapshot() = %q, want suffix %q", got, "23456789")
	}
}

func TestHistoryRingNeverExceedsLimitAcrossManyWrites(t *testing.T) {
	const limit = 16
	r := NewHistoryRing(limit)

	var all []byte
	for i := 0; i < 100; i++ {
		chunk := []byte{byte('a' + i%26)}
		all = append(all, chunk...)
		r.Write(chunk)

		if r.Len() > limit {
			t.Fatalf("after write %d: Len() = %d exceeds limit %d", i, r.Len(), limit)
		}

		want := all
		if len(want) > limit {
			want = want[len(want)-limit:]
		}
		if got := flatten(r.Snapshot()); string(got) != string(want) {
			t.Fatalf("after write %d: Snapshot() = %q, want %q", i, got, want)
		}
	}
}

func TestHistoryRingSnapshotOmitsEmptySlices(t *testing.T) {
	r := NewHistoryRing(16)
	r.Write([]byte("abc"))

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected a single non-empty slice before eviction, got %d slices", len(snap))
	}

	r.Write([]byte("defghijklmnop")) // pushes total past the limit, populating "older"
	snap = r.Snapshot()
	for i, s := range snap {
		if len(s) == 0 {
			t.Errorf("snapshot slice %d is empty, want only non-empty slices", i)
		}
	}
}

func TestHistoryRingEmptyWriteIsNoop(t *testing.T) {
	r := NewHistoryRing(16)
	r.Write(nil)
	r.Write([]byte{})
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot() = %v, want empty", snap)
	}
}

func flatten(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
