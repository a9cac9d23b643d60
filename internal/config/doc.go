// Package config loads, normalizes, and validates finalcut configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies FINALCUT_* environment overrides
// for secrets and connection strings. The Config type centralizes every knob
// the daemon and CLI need: per-stage worker pools, chunking, the analysis and
// render collaborators, object storage, memory ceilings, and event fan-out.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
