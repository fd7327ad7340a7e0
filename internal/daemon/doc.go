// Package daemon hosts the long-running montage process: it owns the
// pipeline manager lifecycle, serves the HTTP API, runs retention
// cleanup, and uses a lock file to prevent concurrent instances.
package daemon
