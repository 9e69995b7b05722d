package netmon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"moneymind/internal/logging"
)

// UeventWatcher listens for kernel network interface uevents and invokes
// onChange for each relevant one. The prober's Trigger is the usual callback.
type UeventWatcher struct {
	logger   *slog.Logger
	onChange func(iface string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewUeventWatcher creates a watcher that calls onChange on interface events.
func NewUeventWatcher(logger *slog.Logger, onChange func(iface string)) *UeventWatcher {
	return &UeventWatcher{
		logger:   logging.NewComponentLogger(logger, "netmon-uevent"),
		onChange: onChange,
	}
}

// Start begins listening for netlink uevents. Failure to open the socket is
// logged and leaves the watcher stopped; periodic probing still works.
func (w *UeventWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; link changes will be noticed on the next probe",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to open netlink sockets"),
			logging.String(logging.FieldImpact, "connectivity changes detected only by periodic probes"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.monitorLoop(ctx, conn, quit)

	w.logger.Info("uevent watcher started",
		logging.String(logging.FieldEventType, "uevent_watcher_started"),
	)
	return nil
}

// Stop shuts down the watcher.
func (w *UeventWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("uevent watcher stopped",
		logging.String(logging.FieldEventType, "uevent_watcher_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *UeventWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *UeventWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "link change detection may be delayed"),
			)
		}
	}
}

// buildMatcher matches interface add, remove, move and change events in the
// net subsystem.
func buildMatcher() netlink.Matcher {
	action := "^(add|remove|change|move|online|offline)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^net$",
		},
	})
	return rules
}

func (w *UeventWatcher) handleEvent(uevent netlink.UEvent) {
	iface := interfaceName(uevent)
	if iface == "" || iface == "lo" {
		w.logger.Debug("ignoring uevent",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	w.logger.Info("network interface changed",
		logging.String(logging.FieldEventType, "link_changed"),
		logging.String("interface", iface),
		logging.String("action", string(uevent.Action)),
	)
	if w.onChange != nil {
		w.onChange(iface)
	}
}

func interfaceName(uevent netlink.UEvent) string {
	if name := uevent.Env["INTERFACE"]; name != "" {
		return name
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		devpath = uevent.KObj
	}
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return parts[len(parts)-1]
}
