// Package store defines the persistence boundary of the job engine: the
// TaskStore interface with its atomic state transitions, the shared sentinel
// errors, and an in-memory implementation used in dev mode and tests.
package store
