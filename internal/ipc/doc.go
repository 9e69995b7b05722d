// Package ipc exposes the upload daemon over JSON-RPC on a Unix socket and
// ships the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Image
// bytes travel inside SubmitRequest so the CLI can hand files to a running
// daemon without touching the queue database itself.
package ipc
