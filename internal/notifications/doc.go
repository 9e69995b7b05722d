// Package notifications delivers upload and push events to the user via ntfy.
//
// The service publishes to the topic URL configured in config.toml and
// degrades to a no-op when no topic is set. Each event type can be switched
// off individually. The service also satisfies the cache worker's notifier so
// push payloads end up on the same topic.
package notifications
