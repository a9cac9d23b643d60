// Package logging builds the slog loggers used by the daemon and CLI.
//
// Two formats are supported. The console format prints one line per record
// with the component, job, stage, and chunk lifted into a short prefix; the
// json format keeps every attribute and renames the built-in keys to
// ts/level/msg. WithContext copies the job, queue item, stage, worker, and
// request identifiers carried by a context onto a logger, and TeeLogger
// mirrors records into extra handlers such as the per-job log table.
package logging
