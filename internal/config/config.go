package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	WorkerBind string `toml:"worker_bind"`
}

// Upload contains configuration for the upload coordinator.
type Upload struct {
	Endpoint          string   `toml:"endpoint"`
	MaxRetries        int      `toml:"max_retries"`
	RetryDelaySeconds int      `toml:"retry_delay_seconds"`
	MaxFileBytes      int64    `toml:"max_file_bytes"`
	AllowedTypes      []string `toml:"allowed_types"`
	RequestTimeout    int      `toml:"request_timeout"`
	Concurrency       int      `toml:"concurrency"`
}

// Network contains configuration for connectivity and link quality probing.
type Network struct {
	ProbeURL        string `toml:"probe_url"`
	ProbeInterval   int    `toml:"probe_interval"`
	ProbeTimeout    int    `toml:"probe_timeout"`
	EffectiveType   string `toml:"effective_type"`
	AssumeOnline    bool   `toml:"assume_online"`
	WatchLinkEvents bool   `toml:"watch_link_events"`
}

// Worker contains configuration for the cache/proxy worker process.
type Worker struct {
	OriginURL     string   `toml:"origin_url"`
	CacheVersion  string   `toml:"cache_version"`
	Manifest      []string `toml:"manifest"`
	SkipWaiting   bool     `toml:"skip_waiting"`
	LRUEntries    int      `toml:"lru_entries"`
	FetchTimeout  int      `toml:"fetch_timeout"`
	SyncHookURL   string   `toml:"sync_hook_url"`
	NotifyIconURL string   `toml:"notify_icon_url"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	UploadSuccess  bool   `toml:"upload_success"`
	UploadFailure  bool   `toml:"upload_failure"`
	Push           bool   `toml:"push"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	StatsPollInterval int `toml:"stats_poll_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the uploader.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and bind addresses
//   - Upload: remote endpoint, validation limits and retry policy
//   - Network: connectivity probing and link quality classification
//   - Worker: cache/proxy worker origin, cache version and manifest
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Network       Network       `toml:"network"`
	Worker        Worker        `toml:"worker"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/moneymind/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("moneymind.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and worker operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the pending upload database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "uploads.db")
}

// CacheDBPath returns the location of the worker cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.DataDir, "cache.db")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "moneymind.sock")
}

// RetryDelay returns the fixed backoff between retry rounds.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Upload.RetryDelaySeconds) * time.Second
}

// UploadTimeout returns the per-request timeout for direct uploads.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.RequestTimeout) * time.Second
}

// ProbeInterval returns the delay between connectivity probes.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Network.ProbeInterval) * time.Second
}

// ProbeTimeout returns the connectivity probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Network.ProbeTimeout) * time.Second
}

// StatsPollInterval returns the daemon statistics poll period.
func (c *Config) StatsPollInterval() time.Duration {
	return time.Duration(c.Workflow.StatsPollInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
