// Package config provides TOML configuration file loading and parsing for the host.
// The configuration file lives at ~/.migrator/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Workspace is the path to the project being migrated. It becomes the
	// agent session's working directory. If empty, defaults to the current
	// working directory.
	Workspace string `toml:"workspace"`

	// Addr is the host:port for the webview WebSocket server.
	// Default: 127.0.0.1:7171
	Addr string `toml:"addr"`

	// DBPath is the path to the SQLite database holding durable state.
	// Default: ~/.migrator/migrator.db
	DBPath string `toml:"db_path"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// RequireAuth enables token-based authentication for WebSocket connections.
	// Default: false
	RequireAuth bool `toml:"require_auth"`

	// AccessToken is the shared token webview connections must present when
	// RequireAuth is true. The token is never compared in plain text at the
	// connection boundary; the server hashes it at startup.
	AccessToken string `toml:"access_token"`

	// AgentPath is an explicit path to the migration agent binary.
	// If empty, the binary is searched on PATH and in conventional
	// install locations.
	AgentPath string `toml:"agent_path"`

	// AgentArgs are extra arguments passed to the agent on spawn.
	AgentArgs []string `toml:"agent_args"`

	// AgentHandshakeTimeoutMs bounds the initialize and session-creation
	// requests. Default: 10000
	AgentHandshakeTimeoutMs int `toml:"agent_handshake_timeout_ms"`

	// AgentGenerationTimeoutMs bounds one full generation turn.
	// Default: 300000
	AgentGenerationTimeoutMs int `toml:"agent_generation_timeout_ms"`

	// AgentForceKillTimeoutMs is how long a stop waits for a graceful exit
	// before killing the process. Default: 5000
	AgentForceKillTimeoutMs int `toml:"agent_force_kill_timeout_ms"`

	// PersistDebounceMs is the quiet period before a changed durable slice
	// is written to the database. Default: 500
	PersistDebounceMs int `toml:"persist_debounce_ms"`

	// ChatRatePerSec limits inbound agent-chat messages per second per
	// connection. Default: 2
	ChatRatePerSec float64 `toml:"chat_rate_per_sec"`

	// ChatRateBurst is the chat limiter burst size. Default: 4
	ChatRateBurst int `toml:"chat_rate_burst"`
}

// DefaultConfigPath returns the default config file location: ~/.migrator/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".migrator", "config.toml"), nil
}

// DefaultDBPath returns the default database location: ~/.migrator/migrator.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".migrator", "migrator.db"), nil
}

// WriteDefault creates a starter config file at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, workspace string) error {
	// Never overwrite an existing config
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Migrator host configuration
# Created by 'migrator-host start'

# Listen address for webview connections
addr = "127.0.0.1:7171"

# Project being migrated
workspace = %q
`, workspace)

	// Restrictive permissions; the file may hold an access token later.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.migrator/config.toml). Returns an empty Config without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
