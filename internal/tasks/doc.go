// Package tasks runs deferred and batch work for the offline runtime.
//
// # Deferred sync
//
// [Scheduler] holds sync tags registered by the submission queue ("story-submission",
// "reflection-submission") until a [ConnectivityProbe] reports the destination reachable, then calls
// its [Handler] once per tag. Duplicate registrations collapse; a tag whose handler fails stays
// pending for the next wake. The loop wakes on every registration and on a poll interval.
//
// # Export
//
// [ExportSubmissions] writes every category store to disk in one of the [formatter] formats using a
// small worker pool, followed by an export_manifest.json summarizing the run.
//
// # Progress Reporting
//
// Exports report through an optional [ProgressUpdate] channel. Updates use select with default to
// prevent blocking.
package tasks
