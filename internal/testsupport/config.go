package testsupport

import (
	"path/filepath"
	"testing"

	"moneymind/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Network probing and link watching are disabled so tests drive connectivity
// through the monitor directly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.WorkerBind = "127.0.0.1:0"
	cfgVal.Network.ProbeURL = ""
	cfgVal.Network.WatchLinkEvents = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithEndpoint points uploads at the given base URL, typically an httptest server.
func WithEndpoint(endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Endpoint = endpoint
	}
}

// WithOrigin points the cache worker at the given origin URL.
func WithOrigin(origin string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.OriginURL = origin
	}
}

// WithManifest replaces the cache worker manifest.
func WithManifest(paths ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Manifest = append([]string(nil), paths...)
	}
}

// WithOffline starts the network monitor in the offline state.
func WithOffline() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Network.AssumeOnline = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
