package terminal

import (
	"context"
	"testing"
	"time"
)

func TestManagerGetOrCreateSpawnsAndReuses(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	t1, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationNever)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer t1.Kill()

	t2, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationNever)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if t1 != t2 {
		t.Fatal("expected RecreationNever to reuse the existing terminal")
	}
}

func TestManagerGetOrCreateRecreationDifferentCommand(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	t1, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationDifferentCommand)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer t1.Kill()

	t2, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationDifferentCommand)
	if err != nil {
		t.Fatalf("GetOrCreate (same command): %v", err)
	}
	if t1 != t2 {
		t.Fatal("expected same command to be reused under RecreationDifferentCommand")
	}

	t3, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh", "-c", "echo hi"}, "", RecreationDifferentCommand)
	if err != nil {
		t.Fatalf("GetOrCreate (different command): %v", err)
	}
	defer t3.Kill()
	if t1 == t3 {
		t.Fatal("expected a different command to trigger recreation")
	}

	waitExited(t, t1)
}

func TestManagerGetOrCreateRecreationAlways(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	t1, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationAlways)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer t1.Kill()

	t2, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationAlways)
	if err != nil {
		t.Fatalf("GetOrCreate (again): %v", err)
	}
	defer t2.Kill()
	if t1 == t2 {
		t.Fatal("expected RecreationAlways to always respawn")
	}
	waitExited(t, t1)
}

func TestManagerRemoveKillsAndUnregisters(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	t1, err := m.GetOrCreate(ctx, "shell", []string{"/bin/sh"}, "", RecreationNever)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	m.Remove("shell")
	if _, ok := m.Get("shell"); ok {
		t.Fatal("expected terminal to be unregistered after Remove")
	}
	waitExited(t, t1)
}

func waitExited(t *testing.T, term *Terminal) {
	t.Helper()
	select {
	case <-term.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not exit in time")
	}
}
