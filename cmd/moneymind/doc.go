// Command moneymind is the CLI and process entry point for the MoneyMind
// uploader. It submits receipt images to the upload daemon over its IPC
// socket, inspects and manages the offline queue, controls the daemon
// lifecycle and runs the cache/proxy worker.
package main
