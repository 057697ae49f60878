// Package config loads and validates the collabhub-server YAML configuration.
//
// Load(path) reads the file, fills defaults for absent fields and validates
// the result. Secrets are never stored in the file: fields ending in _env name
// the environment variable that holds the value (see StorageConfig.URI).
//
// Watch(ctx, path, onChange) reloads the file on write and hands the new
// Config to onChange. Only log_level, hub.rate_limit and hub.stats_interval
// are applied at runtime; other changes need a restart.
package config
