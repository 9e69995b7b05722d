package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeNetwork()
	c.normalizeWorker()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.WorkerBind = strings.TrimSpace(c.Paths.WorkerBind)
	if c.Paths.WorkerBind == "" {
		c.Paths.WorkerBind = defaultWorkerBind
	}
	return nil
}

func (c *Config) normalizeUpload() {
	if value, ok := os.LookupEnv("MONEYMIND_ENDPOINT"); ok && strings.TrimSpace(value) != "" {
		c.Upload.Endpoint = value
	}
	c.Upload.Endpoint = strings.TrimRight(strings.TrimSpace(c.Upload.Endpoint), "/")
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = append([]string(nil), defaultAllowedTypes...)
		return
	}
	types := make([]string, 0, len(c.Upload.AllowedTypes))
	seen := make(map[string]struct{}, len(c.Upload.AllowedTypes))
	for _, mimeType := range c.Upload.AllowedTypes {
		normalized := strings.ToLower(strings.TrimSpace(mimeType))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	c.Upload.AllowedTypes = types
}

func (c *Config) normalizeNetwork() {
	c.Network.ProbeURL = strings.TrimSpace(c.Network.ProbeURL)
	c.Network.EffectiveType = strings.ToLower(strings.TrimSpace(c.Network.EffectiveType))
}

func (c *Config) normalizeWorker() {
	c.Worker.OriginURL = strings.TrimRight(strings.TrimSpace(c.Worker.OriginURL), "/")
	c.Worker.CacheVersion = strings.TrimSpace(c.Worker.CacheVersion)
	if c.Worker.CacheVersion == "" {
		c.Worker.CacheVersion = defaultCacheVersion
	}
	if c.Worker.Manifest == nil {
		c.Worker.Manifest = append([]string(nil), defaultManifest...)
	}
	manifest := make([]string, 0, len(c.Worker.Manifest))
	for _, entry := range c.Worker.Manifest {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		manifest = append(manifest, entry)
	}
	c.Worker.Manifest = manifest
	c.Worker.SyncHookURL = strings.TrimSpace(c.Worker.SyncHookURL)
	if c.Worker.SyncHookURL == "" {
		c.Worker.SyncHookURL = "http://" + c.Paths.APIBind + "/api/uploads/sync"
	}
	c.Worker.NotifyIconURL = strings.TrimSpace(c.Worker.NotifyIconURL)
	if c.Worker.NotifyIconURL == "" {
		c.Worker.NotifyIconURL = defaultNotifyIconURL
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("MONEYMIND_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
