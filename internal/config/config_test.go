package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	content := `
workspace = "/path/to/project"
addr = "0.0.0.0:8080"
db_path = "/path/to/store.db"
log_level = "debug"
require_auth = true
access_token = "s3cret"
agent_path = "/opt/agent/migrator-agent"
agent_args = ["--verbose"]
agent_handshake_timeout_ms = 20000
agent_generation_timeout_ms = 600000
agent_force_kill_timeout_ms = 2000
persist_debounce_ms = 250
chat_rate_per_sec = 5.0
chat_rate_burst = 10
`
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Workspace != "/path/to/project" {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, "/path/to/project")
	}
	if cfg.Addr != "0.0.0.0:8080" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "0.0.0.0:8080")
	}
	if cfg.DBPath != "/path/to/store.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/path/to/store.db")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if !cfg.RequireAuth {
		t.Error("RequireAuth = false, want true")
	}
	if cfg.AccessToken != "s3cret" {
		t.Errorf("AccessToken = %q, want %q", cfg.AccessToken, "s3cret")
	}
	if cfg.AgentPath != "/opt/agent/migrator-agent" {
		t.Errorf("AgentPath = %q, want %q", cfg.AgentPath, "/opt/agent/migrator-agent")
	}
	if len(cfg.AgentArgs) != 1 || cfg.AgentArgs[0] != "--verbose" {
		t.Errorf("AgentArgs = %v, want [--verbose]", cfg.AgentArgs)
	}
	if cfg.AgentHandshakeTimeoutMs != 20000 {
		t.Errorf("AgentHandshakeTimeoutMs = %d, want %d", cfg.AgentHandshakeTimeoutMs, 20000)
	}
	if cfg.AgentGenerationTimeoutMs != 600000 {
		t.Errorf("AgentGenerationTimeoutMs = %d, want %d", cfg.AgentGenerationTimeoutMs, 600000)
	}
	if cfg.AgentForceKillTimeoutMs != 2000 {
		t.Errorf("AgentForceKillTimeoutMs = %d, want %d", cfg.AgentForceKillTimeoutMs, 2000)
	}
	if cfg.PersistDebounceMs != 250 {
		t.Errorf("PersistDebounceMs = %d, want %d", cfg.PersistDebounceMs, 250)
	}
	if cfg.ChatRatePerSec != 5.0 {
		t.Errorf("ChatRatePerSec = %v, want %v", cfg.ChatRatePerSec, 5.0)
	}
	if cfg.ChatRateBurst != 10 {
		t.Errorf("ChatRateBurst = %d, want %d", cfg.ChatRateBurst, 10)
	}
}

// TestLoad_PartialFields verifies that unset fields keep zero values.
func TestLoad_PartialFields(t *testing.T) {
	content := `
addr = "127.0.0.1:9090"
`
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Addr != "127.0.0.1:9090" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "127.0.0.1:9090")
	}
	if cfg.Workspace != "" {
		t.Errorf("Workspace = %q, want empty", cfg.Workspace)
	}
	if cfg.RequireAuth {
		t.Error("RequireAuth = true, want false")
	}
	if cfg.PersistDebounceMs != 0 {
		t.Errorf("PersistDebounceMs = %d, want 0", cfg.PersistDebounceMs)
	}
}

// TestLoad_ExplicitPathMissing verifies that an explicit missing path is an error.
func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("Load() with missing explicit path succeeded, want error")
	}
}

// TestLoad_EmptyPathMissingDefault verifies empty path with no default file
// returns an empty config without error.
func TestLoad_EmptyPathMissingDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Addr != "" {
		t.Errorf("Addr = %q, want empty", cfg.Addr)
	}
}

// TestLoad_ParseError verifies that invalid TOML is a fatal error.
func TestLoad_ParseError(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte("addr = [unclosed"), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	if _, err := Load(tmpFile); err == nil {
		t.Fatal("Load() with invalid TOML succeeded, want error")
	}
}

// TestWriteDefault verifies default config creation and no-overwrite behavior.
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	if err := WriteDefault(path, "/my/project"); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "/my/project" {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, "/my/project")
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}

	// A second call must not clobber the existing file.
	if err := os.WriteFile(path, []byte(`workspace = "/edited"`), 0600); err != nil {
		t.Fatalf("Failed to edit config: %v", err)
	}
	if err := WriteDefault(path, "/other/project"); err != nil {
		t.Fatalf("WriteDefault() second call error: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "/edited" {
		t.Errorf("Workspace = %q, want edited value preserved", cfg.Workspace)
	}
}
