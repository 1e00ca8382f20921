package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Accounts: map[string]*AccountConfig{},
		Pipeline: PipelineConfig{
			DedupeTTLSec:   60,
			DedupeCapacity: 5000,
			DebounceMs:     1000,
			RateLimitRPM:   20,
		},
		Sessions: SessionsConfig{
			Storage: "~/.larkpipe/sessions",
			Scope:   "per-sender",
		},
		Database: DatabaseConfig{
			Backend:    "sqlite",
			SQLitePath: "~/.larkpipe/larkpipe.db",
		},
		Retention: RetentionConfig{
			Cron:               "0 * * * *",
			PairingMaxAgeHours: 24,
			SessionMaxAgeDays:  30,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8090",
		},
		Engine: EngineConfig{
			TimeoutSec: 120,
		},
		Outbound: OutboundConfig{
			TimeoutSec: 30,
		},
		Directory: DirectoryConfig{
			TimeoutSec: 10,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("LARKPIPE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("LARKPIPE_DB_BACKEND", &c.Database.Backend)
	envStr("LARKPIPE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("LARKPIPE_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("LARKPIPE_LISTEN", &c.Server.Listen)
	envStr("LARKPIPE_API_TOKEN", &c.Server.Token)
	envStr("LARKPIPE_ENGINE_URL", &c.Engine.Endpoint)
	envStr("LARKPIPE_ENGINE_TOKEN", &c.Engine.Token)
	envStr("LARKPIPE_OUTBOUND_URL", &c.Outbound.Endpoint)
	envStr("LARKPIPE_OUTBOUND_TOKEN", &c.Outbound.Token)
	envStr("LARKPIPE_DIRECTORY_URL", &c.Directory.Endpoint)
	envStr("LARKPIPE_DIRECTORY_TOKEN", &c.Directory.Token)

	envStr("LARKPIPE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LARKPIPE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LARKPIPE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LARKPIPE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LARKPIPE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("LARKPIPE_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Pipeline.DebounceMs = ms
		}
	}

	// Default-account credentials from env, auto-enabling the account.
	appID := os.Getenv("LARKPIPE_APP_ID")
	appSecret := os.Getenv("LARKPIPE_APP_SECRET")
	if appID != "" && appSecret != "" {
		acct := c.Accounts["default"]
		if acct == nil {
			acct = &AccountConfig{}
			c.Accounts["default"] = acct
		}
		acct.AppID = appID
		acct.AppSecret = appSecret
		acct.Enabled = true
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// Replace swaps in a freshly loaded config. Used by the hot-reload watcher.
func (c *Config) Replace(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts = next.Accounts
	c.Pipeline = next.Pipeline
	c.Sessions = next.Sessions
	c.Database = next.Database
	c.Retention = next.Retention
	c.Telemetry = next.Telemetry
	c.Server = next.Server
	c.Engine = next.Engine
	c.Outbound = next.Outbound
	c.Directory = next.Directory
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields
// masked, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	for _, acct := range cp.Accounts {
		maskNonEmpty(&acct.AppID)
		maskNonEmpty(&acct.AppSecret)
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
