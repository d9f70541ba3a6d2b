package compose

import (
	"context"
	"strings"
	"testing"
)

func TestLoginArgs(t *testing.T) {
	got := LoginArgs(RegistryCredential{Registry: "ghcr.io", Username: "bot", Password: "p4ss"})
	want := "login ghcr.io -u bot -p p4ss"
	if strings.Join(got, " ") != want {
		t.Fatalf("LoginArgs = %v, want %q", got, want)
	}

	got = LoginArgs(RegistryCredential{Username: "bot", Password: "p4ss"})
	if strings.Join(got, " ") != "login -u bot -p p4ss" {
		t.Fatalf("LoginArgs without registry = %v", got)
	}
}

func TestRegistryLoginScrubsPassword(t *testing.T) {
	runner := &scriptedRunner{}
	runner.expect("Login Succeeded", "WARNING! Using --password via the CLI is insecure: p4ss", nil)

	d := NewDriver(runner)
	log := d.RegistryLogin(context.Background(), RegistryCredential{Registry: "ghcr.io", Username: "bot", Password: "p4ss"})

	if !log.Success || log.Stage != "Registry Login" {
		t.Fatalf("log = %+v", log)
	}
	if strings.Contains(log.Stdout+log.Stderr, "p4ss") {
		t.Fatalf("password leaked into log: %+v", log)
	}
}
