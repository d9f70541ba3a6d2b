package execengine

import "testing"

func TestUpdateAppendLogRejectedAfterComplete(t *testing.T) {
	u := NewUpdate("u1", "deploy", "alice", "stack1")
	u.MarkInProgress()
	if err := u.AppendLog(LogEntry{Stage: "one", Success: true}); err != nil {
		t.Fatalf("AppendLog before finalize: %v", err)
	}
	u.Finalize()
	if err := u.AppendLog(LogEntry{Stage: "two", Success: true}); err == nil {
		t.Fatal("expected AppendLog to fail on a completed update")
	}
}

func TestUpdateFinalizeSuccessIsAndOfLogs(t *testing.T) {
	u := NewUpdate("u1", "deploy", "alice", "stack1")
	u.MarkInProgress()
	u.AppendLog(LogEntry{Stage: "one", Success: true})
	u.AppendLog(LogEntry{Stage: "two", Success: false})
	u.Finalize()

	if u.Success {
		t.Fatal("expected Success=false when any log entry failed")
	}
	if u.Status != StatusComplete {
		t.Fatalf("Status = %q, want %q", u.Status, StatusComplete)
	}
	if u.EndedAt == nil {
		t.Fatal("expected EndedAt to be set after Finalize")
	}
}

func TestUpdateFinalizeVacuousSuccess(t *testing.T) {
	u := NewUpdate("u1", "noop", "alice", "stack1")
	u.Finalize()
	if !u.Success {
		t.Fatal("expected a no-log update to finalize as successful")
	}
}

func TestUpdateFinalizeIsIdempotent(t *testing.T) {
	u := NewUpdate("u1", "deploy", "alice", "stack1")
	u.AppendLog(LogEntry{Stage: "one", Success: false})
	u.Finalize()
	firstEnded := u.EndedAt

	u.Logs = append(u.Logs, LogEntry{Stage: "two", Success: true})
	u.Finalize()

	if u.EndedAt != firstEnded {
		t.Fatal("expected a second Finalize call to be a no-op")
	}
}

func TestUpdateSnapshotIsIndependentCopy(t *testing.T) {
	u := NewUpdate("u1", "deploy", "alice", "stack1")
	u.AppendLog(LogEntry{Stage: "one", Success: true})

	snap := u.Snapshot()
	u.AppendLog(LogEntry{Stage: "two", Success: true})

	if len(snap.Logs) != 1 {
		t.Fatalf("snapshot logs = %d, want 1 (mutations after Snapshot must not leak in)", len(snap.Logs))
	}
}
