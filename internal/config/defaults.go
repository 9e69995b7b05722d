package config

const (
	defaultDataDir              = "~/.local/share/moneymind"
	defaultLogDir               = "~/.local/share/moneymind/logs"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultWorkerBind           = "127.0.0.1:7491"
	defaultEndpoint             = "http://127.0.0.1:5000"
	defaultMaxRetries           = 3
	defaultRetryDelaySeconds    = 5
	defaultMaxFileBytes         = 16 << 20
	defaultUploadRequestTimeout = 30
	defaultUploadConcurrency    = 4
	defaultProbeURL             = "http://127.0.0.1:5000/"
	defaultProbeInterval        = 15
	defaultProbeTimeout         = 5
	defaultOriginURL            = "http://127.0.0.1:5000"
	defaultCacheVersion         = "moneymind-v1.0.0"
	defaultLRUEntries           = 256
	defaultFetchTimeout         = 15
	defaultNotifyIconURL        = "/static/logo.png"
	defaultNotifyTimeout        = 10
	defaultStatsPollInterval    = 5
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

var (
	defaultAllowedTypes = []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/gif",
		"image/webp",
	}
	defaultManifest = []string{
		"/",
		"/static/css/bootstrap.min.css",
		"/static/css/all.min.css",
		"/static/css/mobile.css",
		"/static/js/bootstrap.bundle.min.js",
		"/static/js/mobile.js",
		"/static/js/pwa.js",
		"/static/js/plotly-latest.min.js",
		"/static/logo.png",
		"/static/favicon.ico",
		"/static/site.webmanifest",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
			WorkerBind: defaultWorkerBind,
		},
		Upload: Upload{
			Endpoint:          defaultEndpoint,
			MaxRetries:        defaultMaxRetries,
			RetryDelaySeconds: defaultRetryDelaySeconds,
			MaxFileBytes:      defaultMaxFileBytes,
			AllowedTypes:      append([]string(nil), defaultAllowedTypes...),
			RequestTimeout:    defaultUploadRequestTimeout,
			Concurrency:       defaultUploadConcurrency,
		},
		Network: Network{
			ProbeURL:        defaultProbeURL,
			ProbeInterval:   defaultProbeInterval,
			ProbeTimeout:    defaultProbeTimeout,
			AssumeOnline:    true,
			WatchLinkEvents: true,
		},
		Worker: Worker{
			OriginURL:     defaultOriginURL,
			CacheVersion:  defaultCacheVersion,
			Manifest:      append([]string(nil), defaultManifest...),
			SkipWaiting:   true,
			LRUEntries:    defaultLRUEntries,
			FetchTimeout:  defaultFetchTimeout,
			NotifyIconURL: defaultNotifyIconURL,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			UploadSuccess:  true,
			UploadFailure:  true,
			Push:           true,
		},
		Workflow: Workflow{
			StatsPollInterval: defaultStatsPollInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
