// Package config loads, normalizes, and validates MoneyMind uploader configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MONEYMIND_ENDPOINT. The Config type centralizes every knob the daemon, the
// cache worker and the CLI need, so the upload endpoint, queue location and
// network probing settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
