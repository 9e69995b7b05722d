package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"moneymind/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

var statusStyles = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	text := "[" + style.tag + "]"
	if message != "" {
		text += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

// statusReport accumulates the sections printed by `moneymind status`.
type statusReport struct {
	lines    []string
	colorize bool
}

func (r *statusReport) section(title string) {
	if len(r.lines) > 0 {
		r.lines = append(r.lines, "")
	}
	header := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(header))
	if r.colorize {
		header = ansiBlue + header + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	r.lines = append(r.lines, header, rule)
}

func (r *statusReport) add(label string, kind statusKind, message string) {
	r.lines = append(r.lines, renderStatusLine(label, kind, message, r.colorize))
}

func statusLines(status *ipc.StatusResponse, colorize bool) []string {
	r := &statusReport{colorize: colorize}
	r.daemon(status)
	r.network(status)
	r.queue(status)
	return r.lines
}

func (r *statusReport) daemon(status *ipc.StatusResponse) {
	r.section("Daemon")
	if status.Running {
		r.add("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID))
		if status.APIAddress != "" {
			r.add("HTTP API", statusInfo, status.APIAddress)
		}
	} else {
		r.add("Daemon", statusWarn, "Not running")
	}
	r.add("Endpoint", statusInfo, status.Endpoint)
	r.add("Queue database", statusInfo, status.QueueDBPath)
}

// network is only meaningful while a daemon observes connectivity.
func (r *statusReport) network(status *ipc.StatusResponse) {
	r.section("Network")
	if !status.Running {
		r.add("Connectivity", statusInfo, "Unknown (daemon not running)")
		return
	}
	if status.Network.Online {
		r.add("Connectivity", statusOK, "Online")
	} else {
		r.add("Connectivity", statusWarn, "Offline")
	}
	r.add("Link quality", statusInfo, string(status.Network.Quality))
	r.add("Upload mode", adviceKind(status.Advice.Mode), status.Advice.Message)
}

func (r *statusReport) queue(status *ipc.StatusResponse) {
	r.section("Queue")
	if status.StatsError != "" {
		r.add("Queue", statusError, status.StatsError)
		return
	}
	stats := status.Stats
	r.add("Pending", countKind(stats.Pending, statusInfo), strconv.Itoa(stats.Pending))
	r.add("Failed", countKind(stats.Failed, statusWarn), strconv.Itoa(stats.Failed))
	r.add("Stored", statusInfo, formatBytes(stats.TotalSize))
	if status.Running {
		r.add("Armed retries", statusInfo, strconv.Itoa(status.PendingRetries))
	}
}

// countKind reports OK for an empty bucket and nonZero otherwise.
func countKind(n int, nonZero statusKind) statusKind {
	if n == 0 {
		return statusOK
	}
	return nonZero
}

func adviceKind(mode string) statusKind {
	switch mode {
	case "direct":
		return statusOK
	case "offline", "slow":
		return statusWarn
	default:
		return statusInfo
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}
