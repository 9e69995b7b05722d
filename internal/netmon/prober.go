package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"moneymind/internal/config"
	"moneymind/internal/logging"
)

// RTT thresholds follow the Network Information API effective type table.
const (
	slow2GMinRTT = 2000 * time.Millisecond
	twoGMinRTT   = 1400 * time.Millisecond
	threeGMinRTT = 270 * time.Millisecond
)

// EstimateEffectiveType maps a probe round-trip time to an effective link type.
func EstimateEffectiveType(rtt time.Duration) string {
	switch {
	case rtt >= slow2GMinRTT:
		return "slow-2g"
	case rtt >= twoGMinRTT:
		return "2g"
	case rtt >= threeGMinRTT:
		return "3g"
	default:
		return "4g"
	}
}

// Prober periodically checks reachability of a health URL and reports the
// result to a Monitor.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration
	override string
	logger   *slog.Logger
	trigger  chan struct{}

	mu      sync.Mutex
	running bool
}

// NewProber builds a prober from configuration. It returns nil when probing is
// disabled (empty network.probe_url).
func NewProber(cfg *config.Config, monitor *Monitor, logger *slog.Logger) *Prober {
	if cfg == nil || monitor == nil || cfg.Network.ProbeURL == "" {
		return nil
	}
	return &Prober{
		monitor:  monitor,
		client:   &http.Client{Timeout: cfg.ProbeTimeout()},
		url:      cfg.Network.ProbeURL,
		interval: cfg.ProbeInterval(),
		override: cfg.Network.EffectiveType,
		logger:   logging.NewComponentLogger(logger, "netmon-prober"),
		trigger:  make(chan struct{}, 1),
	}
}

// Run probes immediately and then on every interval tick or Trigger call until
// ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.monitor.Report(p.Probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		p.monitor.Report(p.Probe(ctx))
	}
}

// Trigger requests an immediate probe. Requests coalesce while one is pending.
func (p *Prober) Trigger() {
	if p == nil {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Probe performs a single HEAD request. Any HTTP response counts as online;
// transport errors count as offline.
func (p *Prober) Probe(ctx context.Context) Signal {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Debug("probe request build failed", logging.Error(err))
		return Signal{Online: false}
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		p.logger.Debug("probe failed",
			logging.Error(err),
			logging.String("url", p.url),
		)
		return Signal{Online: false}
	}
	_ = resp.Body.Close()

	effectiveType := p.override
	if effectiveType == "" {
		effectiveType = EstimateEffectiveType(rtt)
	}
	p.logger.Debug("probe succeeded",
		logging.Int("status", resp.StatusCode),
		logging.Duration("rtt", rtt),
		logging.String("effective_type", effectiveType),
	)
	return Signal{Online: true, EffectiveType: effectiveType}
}
