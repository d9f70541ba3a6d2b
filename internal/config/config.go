// Package config loads Core's and Periphery's TOML configuration and the
// fleetctl client's saved-servers list: structs with toml tags, decoded
// from file, with environment overrides applied after.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that id is non-empty and contains only alphanumerics,
// hyphens, or underscores — used for both server ids and terminal names,
// which travel as path/query components and map keys.
func ValidateID(id string) error {
	if id == "" || !validID.MatchString(id) {
		return fmt.Errorf("config: id must be non-empty and alphanumeric (with - or _), got %q", id)
	}
	return nil
}

// CoreConfig is Core's core.toml.
type CoreConfig struct {
	// ListenAddr is the HTTP/WS listen address serving /ws/periphery,
	// /ws/terminal, and /ws/update.
	ListenAddr string `toml:"listen_addr"`
	// DataDir holds Core's static key, the sqlite store, and any Periphery
	// pin files.
	DataDir string `toml:"data_dir"`
	// JWTSecret signs operator session tokens. Generated and
	// persisted on first run if empty.
	JWTSecret string `toml:"jwt_secret,omitempty"`
	// StatusPollInterval overrides the default 15s Periphery status poll.
	StatusPollIntervalSeconds int `toml:"status_poll_interval_seconds,omitempty"`
	// RateLimitMaxAttempts and RateLimitWindowSeconds configure the login
	// failure rate limiter.
	RateLimitMaxAttempts   int `toml:"rate_limit_max_attempts,omitempty"`
	RateLimitWindowSeconds int `toml:"rate_limit_window_seconds,omitempty"`
	// EnableLegacyPasskey gates the Core->Periphery v1 passkey fallback.
	// Off by default; enabling it is logged as a security downgrade.
	EnableLegacyPasskey bool `toml:"enable_legacy_passkey,omitempty"`
	// BackupIntervalHours schedules periodic store backups into
	// DataDir/backups. Zero disables them.
	BackupIntervalHours int `toml:"backup_interval_hours,omitempty"`
}

func defaultCoreConfig() CoreConfig {
	return CoreConfig{
		ListenAddr:                ":8120",
		DataDir:                   defaultDataDir("conduit-core"),
		StatusPollIntervalSeconds: 15,
		RateLimitMaxAttempts:      5,
		RateLimitWindowSeconds:    60,
	}
}

// LoadCoreConfig reads core.toml from dataDir (or the built-in default
// location if dataDir is empty), applies environment overrides, and
// validates it.
func LoadCoreConfig(path string) (CoreConfig, error) {
	cfg := defaultCoreConfig()
	if path == "" {
		path = filepath.Join(cfg.DataDir, "core.toml")
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return CoreConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return CoreConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if v := os.Getenv("CONDUIT_CORE_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONDUIT_CORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONDUIT_CORE_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if cfg.StatusPollIntervalSeconds <= 0 {
		cfg.StatusPollIntervalSeconds = 15
	}
	if cfg.RateLimitMaxAttempts <= 0 {
		cfg.RateLimitMaxAttempts = 5
	}
	if cfg.RateLimitWindowSeconds <= 0 {
		cfg.RateLimitWindowSeconds = 60
	}
	return cfg, nil
}

// PeripheryConfig is Periphery's periphery.toml.
type PeripheryConfig struct {
	// ServerID identifies this host's Server document on Core; also used
	// as the "server" query parameter when dialing out.
	ServerID string `toml:"server_id"`
	// CoreURL is the wss:// target to dial (Periphery dials Core). Empty
	// means Periphery only listens (Core dials Periphery instead).
	CoreURL string `toml:"core_url,omitempty"`
	// ListenAddr is the WS listen address used when Core dials in
	// (reverse-proxy deployments). Empty disables the listener.
	ListenAddr string `toml:"listen_addr,omitempty"`
	// DataDir holds this host's static key, pin file, repo/action caches.
	DataDir string `toml:"data_dir"`
	// AcceptedCorePublicKeyFiles lists additional PEM files Periphery will
	// accept as Core's static key, beyond the TOFU-pinned one.
	AcceptedCorePublicKeyFiles []string `toml:"accepted_core_public_key_files,omitempty"`
	EnableLegacyPasskey        bool     `toml:"enable_legacy_passkey,omitempty"`
	Passkey                    string   `toml:"passkey,omitempty"`
	// Secrets maps names to values interpolated into stack files on this
	// host; the values are scrubbed from every log this agent produces.
	Secrets map[string]string `toml:"secrets,omitempty"`
}

func defaultPeripheryConfig() PeripheryConfig {
	return PeripheryConfig{
		DataDir: defaultDataDir("conduit-periphery"),
	}
}

// LoadPeripheryConfig reads periphery.toml, applies environment overrides,
// and validates the server id.
func LoadPeripheryConfig(path string) (PeripheryConfig, error) {
	cfg := defaultPeripheryConfig()
	if path == "" {
		path = filepath.Join(cfg.DataDir, "periphery.toml")
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return PeripheryConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return PeripheryConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if v := os.Getenv("CONDUIT_SERVER_ID"); v != "" {
		cfg.ServerID = v
	}
	if v := os.Getenv("CONDUIT_CORE_URL"); v != "" {
		cfg.CoreURL = v
	}
	if v := os.Getenv("CONDUIT_PERIPHERY_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONDUIT_PERIPHERY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if err := ValidateID(cfg.ServerID); err != nil {
		return PeripheryConfig{}, err
	}
	return cfg, nil
}

// ServerEntry is one saved remote Core endpoint, as fleetctl stores it.
type ServerEntry struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key,omitempty"`
	APISecret string `toml:"api_secret,omitempty"`
	Token    string `toml:"token,omitempty"`
}

// ServersConfig is fleetctl's client-side servers list (~/.conduit/servers.toml).
type ServersConfig struct {
	Servers map[string]ServerEntry `toml:"servers"`
}

// LoadServersConfig reads servers.toml from dataDir. If the file does not
// exist an empty ServersConfig is returned.
func LoadServersConfig(dataDir string) (*ServersConfig, error) {
	path := filepath.Join(dataDir, "servers.toml")

	sc := &ServersConfig{Servers: make(map[string]ServerEntry)}

	if _, err := os.Stat(path); err != nil {
		return sc, nil
	}
	if _, err := toml.DecodeFile(path, sc); err != nil {
		return nil, fmt.Errorf("config: parsing servers.toml: %w", err)
	}
	return sc, nil
}

// Save writes sc to servers.toml inside dataDir, creating the directory if
// necessary.
func (sc *ServersConfig) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("config: creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, "servers.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(sc); err != nil {
		return fmt.Errorf("config: encoding servers.toml: %w", err)
	}
	return nil
}

func defaultDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+name)
	}
	return filepath.Join(home, "."+name)
}
