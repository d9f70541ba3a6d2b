package terminal

import "testing"

func TestContainerCommandExecDefaultsToShShell(t *testing.T) {
	argv, err := ContainerCommand(ContainerExec, "my-app", "")
	if err != nil {
		t.Fatalf("ContainerCommand: %v", err)
	}
	want := []string{"docker", "exec", "-it", "my-app", "/bin/sh"}
	if !equalStrings(argv, want) {
		t.Fatalf("got %v, want %v", argv, want)
	}
}

func TestContainerCommandExecCustomShell(t *testing.T) {
	argv, err := ContainerCommand(ContainerExec, "my-app", "/bin/bash")
	if err != nil {
		t.Fatalf("ContainerCommand: %v", err)
	}
	want := []string{"docker", "exec", "-it", "my-app", "/bin/bash"}
	if !equalStrings(argv, want) {
		t.Fatalf("got %v, want %v", argv, want)
	}
}

func TestContainerCommandAttach(t *testing.T) {
	argv, err := ContainerCommand(ContainerAttach, "my-app", "")
	if err != nil {
		t.Fatalf("ContainerCommand: %v", err)
	}
	want := []string{"docker", "attach", "--sig-proxy=false", "my-app"}
	if !equalStrings(argv, want) {
		t.Fatalf("got %v, want %v", argv, want)
	}
}

func TestContainerCommandRejectsEmptyContainer(t *testing.T) {
	if _, err := ContainerCommand(ContainerExec, "", ""); err == nil {
		t.Fatal("expected an error for an empty container name")
	}
}

func TestContainerCommandRejectsShellMetacharacters(t *testing.T) {
	cases := []struct {
		container string
		shell     string
	}{
		{"app && rm -rf /", ""},
		{"app", "/bin/sh; rm -rf /"},
		{"app`id`", ""},
		{"app$(id)", ""},
	}
	for _, tc := range cases {
		if _, err := ContainerCommand(ContainerExec, tc.container, tc.shell); err == nil {
			t.Fatalf("expected rejection for container=%q shell=%q", tc.container, tc.shell)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
