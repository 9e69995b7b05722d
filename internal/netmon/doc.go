// Package netmon tracks connectivity and a coarse link quality class.
//
// The Monitor holds the last reported Signal and classifies the effective link
// type into poor, good, excellent, or unknown. Signals come from a Prober that
// issues periodic HEAD requests against a health URL and estimates the link
// type from round-trip time, and from a UeventWatcher that asks the prober for
// an immediate check whenever the kernel reports a network interface change.
//
// Subscribers receive ConnectivityRestored exactly once per offline to online
// transition. Quality changes alone never produce it.
package netmon
