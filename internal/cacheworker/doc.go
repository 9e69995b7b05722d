// Package cacheworker implements the cache/proxy worker that fronts the web
// origin.
//
// The worker precaches a fixed manifest at install time, removes caches of
// older versions on activation, and then answers requests cache-first, storing
// successful same-origin responses as they pass through. It also relays push
// payloads to the notifier, forwards background-sync signals to a hook and
// answers version and skip-waiting messages on its control endpoints under
// /__worker/.
package cacheworker
