// Package daemonctl launches, stops and inspects the upload daemon from the
// CLI side of the IPC socket.
package daemonctl
