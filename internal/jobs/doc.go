// Package jobs persists generation jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema migrations, stats queries,
// heartbeat tracking, stale-job recovery, and the status transitions of the
// job state machine. Jobs capture per-stage outputs, retry counters, and a
// structured error record so the pipeline can resume reporting without extra
// state.
//
// Progress is monotone for live jobs: SetProgress ignores lower values, and
// AdvanceStage ignores backward moves. Cancellation is cooperative, queued
// jobs cancel immediately while processing jobs carry a flag the pipeline
// honors at the next stage boundary.
package jobs
