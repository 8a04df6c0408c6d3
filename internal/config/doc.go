// Package config loads, normalizes, and validates cadpipe configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies CADPIPE_* environment overrides
// after the file parse so deployments can tune the daemon without editing
// files. The Config type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
