package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validEffectiveTypes = map[string]struct{}{
	"":         {},
	"slow-2g":  {},
	"2g":       {},
	"3g":       {},
	"4g":       {},
	"5g":       {},
	"wifi":     {},
	"ethernet": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.Endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/moneymind/config.toml"
		}
		return fmt.Errorf("upload.endpoint is required. Set MONEYMIND_ENDPOINT env var or edit %s (create with 'moneymind config init')", defaultPath)
	}
	if err := validateHTTPURL("upload.endpoint", c.Upload.Endpoint); err != nil {
		return err
	}
	if c.Upload.MaxFileBytes <= 0 {
		return errors.New("upload.max_file_bytes must be positive")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return errors.New("upload.allowed_types must include at least one MIME type")
	}
	for _, mimeType := range c.Upload.AllowedTypes {
		if !strings.HasPrefix(mimeType, "image/") {
			return fmt.Errorf("upload.allowed_types entry %q is not an image type", mimeType)
		}
	}
	return ensurePositiveMap(map[string]int{
		"upload.max_retries":         c.Upload.MaxRetries,
		"upload.retry_delay_seconds": c.Upload.RetryDelaySeconds,
		"upload.request_timeout":     c.Upload.RequestTimeout,
		"upload.concurrency":         c.Upload.Concurrency,
	})
}

func (c *Config) validateNetwork() error {
	if _, ok := validEffectiveTypes[c.Network.EffectiveType]; !ok {
		return fmt.Errorf("network.effective_type %q is not one of slow-2g, 2g, 3g, 4g, 5g, wifi, ethernet", c.Network.EffectiveType)
	}
	if c.Network.ProbeURL == "" {
		return nil
	}
	if err := validateHTTPURL("network.probe_url", c.Network.ProbeURL); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"network.probe_interval": c.Network.ProbeInterval,
		"network.probe_timeout":  c.Network.ProbeTimeout,
	})
}

func (c *Config) validateWorker() error {
	if c.Worker.OriginURL == "" {
		return errors.New("worker.origin_url must be set")
	}
	if err := validateHTTPURL("worker.origin_url", c.Worker.OriginURL); err != nil {
		return err
	}
	if c.Worker.LRUEntries < 0 {
		return errors.New("worker.lru_entries must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"worker.fetch_timeout": c.Worker.FetchTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"workflow.stats_poll_interval":  c.Workflow.StatsPollInterval,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func validateHTTPURL(key, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
