// Package config defines the service configuration: per-account policy,
// pipeline timing, storage backends, and telemetry export.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both string and numeric JSON array elements,
// since operators paste numeric platform ids without quotes.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the pipeline service.
type Config struct {
	Accounts  map[string]*AccountConfig `json:"accounts"`
	Pipeline  PipelineConfig            `json:"pipeline,omitempty"`
	Sessions  SessionsConfig            `json:"sessions,omitempty"`
	Database  DatabaseConfig            `json:"database,omitempty"`
	Retention RetentionConfig           `json:"retention,omitempty"`
	Telemetry TelemetryConfig           `json:"telemetry,omitempty"`
	Server    ServerConfig              `json:"server,omitempty"`
	Engine    EngineConfig              `json:"engine,omitempty"`
	Outbound  OutboundConfig            `json:"outbound,omitempty"`
	Directory DirectoryConfig           `json:"directory,omitempty"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP ingress that receives platform events.
// Token is never read from config.json, only from env LARKPIPE_API_TOKEN.
type ServerConfig struct {
	Listen string `json:"listen,omitempty"` // default "127.0.0.1:8090"
	Token  string `json:"-"`
}

// EngineConfig points at the external response engine.
// Token only from env LARKPIPE_ENGINE_TOKEN.
type EngineConfig struct {
	Endpoint   string `json:"endpoint,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 120
	Token      string `json:"-"`
}

// OutboundConfig points at the external send collaborator that talks to
// the platform API. Token only from env LARKPIPE_OUTBOUND_TOKEN.
type OutboundConfig struct {
	Endpoint   string `json:"endpoint,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 30
	Token      string `json:"-"`
}

// DirectoryConfig points at the external directory collaborator that
// resolves platform ids to display names. Token only from env
// LARKPIPE_DIRECTORY_TOKEN.
type DirectoryConfig struct {
	Endpoint   string `json:"endpoint,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 10
	Token      string `json:"-"`
}

// PipelineConfig tunes the ingest stages shared by all accounts.
type PipelineConfig struct {
	DedupeTTLSec   int `json:"dedupe_ttl_sec,omitempty"`  // default 60
	DedupeCapacity int `json:"dedupe_capacity,omitempty"` // default 5000
	DebounceMs     int `json:"debounce_ms,omitempty"`     // default 1000, -1 disables
	QueueSize      int `json:"queue_size,omitempty"`      // per-worker turn queue capacity, default 64
	RateLimitRPM   int `json:"rate_limit_rpm,omitempty"`  // sends per conversation per minute, default 20
}

// SessionsConfig controls session routing and file storage.
type SessionsConfig struct {
	Storage string `json:"storage,omitempty"` // directory for the file backend
	Scope   string `json:"scope,omitempty"`   // "per-sender" (default) or "global"
}

// DatabaseConfig selects the store backend.
// PostgresDSN is never read from config.json (secret); only from env LARKPIPE_POSTGRES_DSN.
type DatabaseConfig struct {
	Backend     string `json:"backend,omitempty"` // "sqlite" (default), "postgres", "file"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// RetentionConfig schedules the periodic cleanup sweep.
type RetentionConfig struct {
	Cron               string `json:"cron,omitempty"`                  // default "0 * * * *"
	PairingMaxAgeHours int    `json:"pairing_max_age_hours,omitempty"` // default 24
	SessionMaxAgeDays  int    `json:"session_max_age_days,omitempty"`  // default 30, 0 disables
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default), "http"
	ServiceName string            `json:"service_name,omitempty"`
	Insecure    bool              `json:"insecure,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	SampleRatio float64           `json:"sample_ratio,omitempty"` // 0 = always sample
}
