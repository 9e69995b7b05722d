// Package daemon coordinates the long-running MoneyMind processes.
//
// The upload daemon wires configuration, the queue store, the network monitor
// and its probes, the upload coordinator and notifications into one lifecycle
// guarded by a flock so only one instance owns the queue. It serves the HTTP
// API, polls queue statistics into metrics and relays upload events to ntfy.
//
// WorkerProcess does the same for the cache/proxy worker: it takes its own
// lock, opens the cache database, installs the configured worker version and
// serves it on the worker bind address.
package daemon
