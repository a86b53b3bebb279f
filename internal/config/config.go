package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config holds application configuration.
type Config struct {
	// SQLiteQuotaBytes is the storage quota for the primary backend.
	SQLiteQuotaBytes int64 `json:"sqlite_quota_bytes,omitempty"`

	// FileQuotaBytes is the storage quota for the file-backed store.
	FileQuotaBytes int64 `json:"file_quota_bytes,omitempty"`

	// MemoryQuotaBytes is the storage quota for the in-memory store.
	MemoryQuotaBytes int64 `json:"memory_quota_bytes,omitempty"`

	// ExportPromptThreshold is the number of recorded extractions after
	// which the shell should prompt the user to export.
	ExportPromptThreshold int `json:"export_prompt_threshold,omitempty"`

	// RateLimitMS is the default delay between exported items.
	// Runtime changes are clamped to [100, 5000].
	RateLimitMS int `json:"rate_limit_ms,omitempty"`

	// DBMaxOpenConns limits open connections on the SQLite backend.
	// 0 means the sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle connections on the SQLite backend.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from
	// registration. Unknown names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// WebBind and WebPort control the local dashboard listener.
	WebBind string `json:"web_bind,omitempty"`
	WebPort int    `json:"web_port,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SQLiteQuotaBytes:      512 << 20,
		FileQuotaBytes:        64 << 20,
		MemoryQuotaBytes:      32 << 20,
		ExportPromptThreshold: 10,
		RateLimitMS:           500,
		WebBind:               "127.0.0.1",
		WebPort:               7319,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.capstore.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars when non-zero.
func Merge(base, overlay *Config) *Config {
	result := *overlay

	if result.SQLiteQuotaBytes == 0 {
		result.SQLiteQuotaBytes = base.SQLiteQuotaBytes
	}
	if result.FileQuotaBytes == 0 {
		result.FileQuotaBytes = base.FileQuotaBytes
	}
	if result.MemoryQuotaBytes == 0 {
		result.MemoryQuotaBytes = base.MemoryQuotaBytes
	}
	if result.ExportPromptThreshold == 0 {
		result.ExportPromptThreshold = base.ExportPromptThreshold
	}
	if result.RateLimitMS == 0 {
		result.RateLimitMS = base.RateLimitMS
	}
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}
	if result.WebBind == "" {
		result.WebBind = base.WebBind
	}
	if result.WebPort == 0 {
		result.WebPort = base.WebPort
	}
	if len(result.DisabledTools) == 0 {
		result.DisabledTools = base.DisabledTools
	}

	return &result
}
