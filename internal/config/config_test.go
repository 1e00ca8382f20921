package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestFlexibleStringSlice verifies numeric allowlist entries parse as
// strings.
func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"strings", `["a", "b"]`, []string{"a", "b"}},
		{"numbers", `[123, 456]`, []string{"123", "456"}},
		{"mixed", `["ou_1", 789]`, []string{"ou_1", "789"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexibleStringSlice
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestResolveAccount_Defaults verifies the defaults fill in for a minimal
// account.
func TestResolveAccount_Defaults(t *testing.T) {
	cfg := Default()
	cfg.Accounts["main"] = &AccountConfig{Enabled: true}

	a := cfg.ResolveAccount("main")
	if a.DMPolicy != DMPolicyPairing {
		t.Errorf("DMPolicy = %q, want pairing default", a.DMPolicy)
	}
	if a.GroupPolicy != GroupPolicyOpen {
		t.Errorf("GroupPolicy = %q, want open default", a.GroupPolicy)
	}
	if a.TextChunkLimit != 4000 {
		t.Errorf("TextChunkLimit = %d, want 4000", a.TextChunkLimit)
	}
	if a.ReplyToMode != ReplyToFirst {
		t.Errorf("ReplyToMode = %q, want first", a.ReplyToMode)
	}

	unknown := cfg.ResolveAccount("nope")
	if unknown.Enabled {
		t.Error("unknown account resolved as enabled")
	}
}

// TestResolveGroup_Precedence verifies explicit group fields override
// account defaults while unset fields inherit.
func TestResolveGroup_Precedence(t *testing.T) {
	mentionOff := false
	limit := 5
	cfg := Default()
	cfg.Accounts["main"] = &AccountConfig{
		Enabled:      true,
		HistoryLimit: 50,
		ReplyToMode:  ReplyToAll,
		Groups: map[string]*GroupConfig{
			"oc_g1": {
				RequireMention: &mentionOff,
				HistoryLimit:   &limit,
				AllowFrom:      FlexibleStringSlice{"alice"},
			},
		},
	}

	g := cfg.ResolveGroup("main", "oc_g1")
	if !g.Configured {
		t.Error("configured group not marked Configured")
	}
	if g.RequireMention {
		t.Error("group override require_mention=false not applied")
	}
	if g.HistoryLimit != 5 {
		t.Errorf("HistoryLimit = %d, want group override 5", g.HistoryLimit)
	}
	if g.ReplyToMode != ReplyToAll {
		t.Errorf("ReplyToMode = %q, want inherited %q", g.ReplyToMode, ReplyToAll)
	}
	if len(g.AllowFrom) != 1 || g.AllowFrom[0] != "alice" {
		t.Errorf("AllowFrom = %v, want [alice]", g.AllowFrom)
	}

	other := cfg.ResolveGroup("main", "oc_other")
	if other.Configured {
		t.Error("unconfigured group marked Configured")
	}
	if !other.RequireMention {
		t.Error("unconfigured group lost the mention default")
	}
	if other.HistoryLimit != 50 {
		t.Errorf("unconfigured group HistoryLimit = %d, want account default 50", other.HistoryLimit)
	}
}

// TestLoad_JSON5AndEnv verifies json5 parsing and that env vars override
// file values.
func TestLoad_JSON5AndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		// account for the main workspace
		accounts: {
			main: {
				enabled: true,
				dm_policy: "open",
				allow_from: ["ou_1", 42],
			},
		},
		pipeline: { debounce_ms: 250 },
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LARKPIPE_DEBOUNCE_MS", "500")
	t.Setenv("LARKPIPE_POSTGRES_DSN", "postgres://example")
	t.Setenv("LARKPIPE_DIRECTORY_URL", "https://dir.example/v1/resolve")
	t.Setenv("LARKPIPE_DIRECTORY_TOKEN", "dir-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	a := cfg.ResolveAccount("main")
	if !a.Enabled || a.DMPolicy != "open" {
		t.Errorf("account not parsed: %+v", a)
	}
	if len(a.AllowFrom) != 2 || a.AllowFrom[1] != "42" {
		t.Errorf("AllowFrom = %v, want numeric entry coerced", a.AllowFrom)
	}
	if cfg.Pipeline.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, env override not applied", cfg.Pipeline.DebounceMs)
	}
	if cfg.Database.PostgresDSN != "postgres://example" {
		t.Error("postgres DSN env not applied")
	}
	if cfg.Directory.Endpoint != "https://dir.example/v1/resolve" || cfg.Directory.Token != "dir-secret" {
		t.Errorf("directory env not applied: %+v", cfg.Directory)
	}
}

// TestLoad_MissingFile verifies a missing config file yields defaults.
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cfg.Pipeline.DedupeTTLSec != 60 {
		t.Errorf("defaults not applied: %+v", cfg.Pipeline)
	}
}

// TestMaskedCopy verifies secrets are masked and the original untouched.
func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Accounts["main"] = &AccountConfig{AppID: "cli_123", AppSecret: "shhh"}

	cp := cfg.MaskedCopy()
	if cp.Accounts["main"].AppSecret != "***" {
		t.Errorf("AppSecret = %q, want masked", cp.Accounts["main"].AppSecret)
	}
	if cfg.Accounts["main"].AppSecret != "shhh" {
		t.Error("original config mutated by MaskedCopy")
	}
}
