// Package task implements the asynchronous job execution engine: the
// per-task processor with its compare-and-set claim, the bounded-parallelism
// executor, the batch coordinator that expands fan-out requests into sibling
// tasks, the polling fallback, and the stuck-task reclaimer.
package task
