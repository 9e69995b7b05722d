package netmon

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()

	add := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "wlan0"}}
	if !matcher.Evaluate(add) {
		t.Error("expected matcher to accept net add event")
	}
	remove := netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "wlan0"}}
	if !matcher.Evaluate(remove) {
		t.Error("expected matcher to accept net remove event")
	}
	block := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}
	if matcher.Evaluate(block) {
		t.Error("expected matcher to reject block events")
	}
	netfilter := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "netfilter"}}
	if matcher.Evaluate(netfilter) {
		t.Error("expected matcher to reject other subsystems sharing the prefix")
	}
}

func TestHandleEvent(t *testing.T) {
	var changed []string
	w := NewUeventWatcher(nil, func(iface string) { changed = append(changed, iface) })

	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "lo"}})
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "eth0"}})
	w.handleEvent(netlink.UEvent{Action: netlink.REMOVE, KObj: "/devices/virtual/net/wg0", Env: map[string]string{}})

	if len(changed) != 2 || changed[0] != "eth0" || changed[1] != "wg0" {
		t.Fatalf("unexpected change callbacks: %v", changed)
	}
}

func TestUeventWatcherNilAndUnstarted(t *testing.T) {
	var nilWatcher *UeventWatcher
	nilWatcher.Stop()
	if nilWatcher.Running() {
		t.Error("nil watcher should not be running")
	}
	if err := nilWatcher.Start(t.Context()); err != nil {
		t.Fatalf("Start on nil watcher: %v", err)
	}

	w := NewUeventWatcher(nil, nil)
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Error("unstarted watcher should not be running")
	}
}
