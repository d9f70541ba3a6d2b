package compose

import "testing"

func tgt() Target {
	return Target{ProjectName: "myapp", Files: []string{"docker-compose.yml", "docker-compose.override.yml"}, EnvFile: ".env"}
}

func TestPullArgs(t *testing.T) {
	got := PullArgs(tgt(), []string{"web", "db"})
	want := []string{"compose", "-p", "myapp", "-f", "docker-compose.yml", "-f", "docker-compose.override.yml", "--env-file", ".env", "pull", "web", "db"}
	assertArgvEqual(t, got, want)
}

func TestUpArgsWithBuildAndPull(t *testing.T) {
	got := UpArgs(tgt(), UpOptions{Build: true, Pull: true})
	want := []string{"compose", "-p", "myapp", "-f", "docker-compose.yml", "-f", "docker-compose.override.yml", "--env-file", ".env", "up", "-d", "--build", "--pull", "always"}
	assertArgvEqual(t, got, want)
}

func TestDownArgsUsesGivenProjectName(t *testing.T) {
	target := tgt()
	target.ProjectName = "old-project"
	got := DownArgs(target, nil)
	want := []string{"compose", "-p", "old-project", "-f", "docker-compose.yml", "-f", "docker-compose.override.yml", "--env-file", ".env", "down"}
	assertArgvEqual(t, got, want)
}

func TestRunArgsComposesAllFlags(t *testing.T) {
	opts := RunOptions{
		Rm: true, Detach: true, NoTTY: true, NoDeps: true, ServicePorts: true,
		Workdir: "/app", User: "1000:1000", Entrypoint: "/bin/sh",
		Env: []string{"FOO=bar", "BAZ=qux"},
	}
	got := RunArgs(tgt(), opts, "web", []string{"echo", "hi"})
	want := []string{
		"compose", "-p", "myapp", "-f", "docker-compose.yml", "-f", "docker-compose.override.yml", "--env-file", ".env",
		"run", "--rm", "-d", "--no-TTY", "--no-deps", "--service-ports",
		"--workdir", "/app", "--user", "1000:1000", "--entrypoint", "/bin/sh",
		"-e", "FOO=bar", "-e", "BAZ=qux", "web", "echo", "hi",
	}
	assertArgvEqual(t, got, want)
}

func TestStackDeployAndRemoveArgs(t *testing.T) {
	got := StackDeployArgs(tgt(), "mystack")
	want := []string{"stack", "deploy", "-c", "docker-compose.yml", "-c", "docker-compose.override.yml", "mystack"}
	assertArgvEqual(t, got, want)

	gotRm := StackRemoveArgs("mystack")
	wantRm := []string{"stack", "rm", "mystack"}
	assertArgvEqual(t, gotRm, wantRm)
}

func TestArgvDisplayStringQuotesOnlyWhenNeeded(t *testing.T) {
	got := ArgvDisplayString([]string{"echo", "hello world", "plain"})
	want := "echo 'hello world' plain"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApplyWrapperSubstitutesPlaceholder(t *testing.T) {
	line, err := ApplyWrapper("nice -19 [[COMPOSE_COMMAND]]", []string{"compose", "-p", "app", "up", "-d"})
	if err != nil {
		t.Fatalf("ApplyWrapper: %v", err)
	}
	want := "nice -19 docker compose -p app up -d"
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}
}

func TestApplyWrapperRequiresPlaceholder(t *testing.T) {
	if _, err := ApplyWrapper("nice -19 docker compose up", []string{"compose", "up"}); err == nil {
		t.Fatal("expected an error when the wrapper is missing the placeholder")
	}
}

func assertArgvEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
