// Package main hosts the montage CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the montaged daemon: job submission, status and progress
// queries, cancellation, health reporting, and configuration scaffolding.
// It centralizes configuration resolution and daemon address discovery so
// subcommands can focus on user experience instead of wiring.
package main
