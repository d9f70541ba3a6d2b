package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCoreConfigDefaults(t *testing.T) {
	cfg, err := LoadCoreConfig(filepath.Join(t.TempDir(), "missing-core.toml"))
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatal("expected a default listen addr")
	}
	if cfg.StatusPollIntervalSeconds != 15 {
		t.Fatalf("expected default status poll interval 15, got %d", cfg.StatusPollIntervalSeconds)
	}
}

func TestLoadCoreConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.toml")
	content := "listen_addr = \":9999\"\nstatus_poll_interval_seconds = 30\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCoreConfig(path)
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected :9999, got %s", cfg.ListenAddr)
	}
	if cfg.StatusPollIntervalSeconds != 30 {
		t.Fatalf("expected 30, got %d", cfg.StatusPollIntervalSeconds)
	}
}

func TestLoadCoreConfigEnvOverride(t *testing.T) {
	t.Setenv("CONDUIT_CORE_LISTEN", ":7000")
	cfg, err := LoadCoreConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("expected env override :7000, got %s", cfg.ListenAddr)
	}
}

func TestLoadPeripheryConfigRequiresServerID(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadPeripheryConfig(filepath.Join(dir, "missing.toml"))
	if err == nil {
		t.Fatalf("expected validation error for empty server id, got cfg=%+v", cfg)
	}
}

func TestLoadPeripheryConfigEnvOverride(t *testing.T) {
	t.Setenv("CONDUIT_SERVER_ID", "srv1")
	t.Setenv("CONDUIT_CORE_URL", "wss://core.example/ws/periphery")
	cfg, err := LoadPeripheryConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadPeripheryConfig: %v", err)
	}
	if cfg.ServerID != "srv1" || cfg.CoreURL != "wss://core.example/ws/periphery" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestServersConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sc := &ServersConfig{Servers: map[string]ServerEntry{
		"prod": {URL: "wss://core.example", APIKey: "k", APISecret: "s"},
	}}
	if err := sc.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadServersConfig(dir)
	if err != nil {
		t.Fatalf("LoadServersConfig: %v", err)
	}
	entry, ok := loaded.Servers["prod"]
	if !ok {
		t.Fatal("expected 'prod' entry to round-trip")
	}
	if entry.URL != "wss://core.example" || entry.APIKey != "k" || entry.APISecret != "s" {
		t.Fatalf("unexpected round-tripped entry: %+v", entry)
	}
}

func TestLoadServersConfigMissingFileReturnsEmpty(t *testing.T) {
	sc, err := LoadServersConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadServersConfig: %v", err)
	}
	if len(sc.Servers) != 0 {
		t.Fatalf("expected empty servers map, got %v", sc.Servers)
	}
}

func TestValidateID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"srv1", true},
		{"my-server_1", true},
		{"", false},
		{"has space", false},
		{"dotted.name", false},
	}
	for _, c := range cases {
		err := ValidateID(c.id)
		if (err == nil) != c.valid {
			t.Errorf("ValidateID(%q): got err=%v, want valid=%v", c.id, err, c.valid)
		}
	}
}
