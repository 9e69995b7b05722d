// Package upload coordinates image submissions between the remote endpoint and
// the local queue.
//
// Files are validated, uploaded directly when the link allows it and saved to
// the queue otherwise. Queued records are retried by sweeps that run at startup
// and on every offline to online transition, with a fixed backoff between
// attempts and a bounded retry budget. Terminal outcomes are published as
// events so the daemon can notify the user.
package upload
