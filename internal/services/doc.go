// Package services defines shared utilities consumed by the pipeline and the
// external collaborator integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the taxonomy the retry executor, circuit breakers, and fallback
//     chain act on (validation vs transient vs throttled vs unavailable vs
//     fatal).
//
// Use these helpers when wiring new collaborators so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
