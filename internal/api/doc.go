// Package api defines transport-friendly views of jobs and service
// health plus the operations exposed over HTTP and the CLI. Conversions
// into DTOs live here so the daemon and command surfaces share one
// serialization of the domain types.
package api
