// Package config loads, normalizes, and validates the TOML configuration that
// drives the montage daemon: directories, pipeline scheduling, stage weights,
// retry/breaker/rate-limit policy, and per-stage collaborator endpoints.
package config
